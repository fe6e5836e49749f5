// Package config loads the node daemon's configuration: flags parsed with
// cobra/pflag take precedence over environment variables (loaded from an
// optional .env via godotenv), which in turn take precedence over built-in
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Config is everything cmd/node needs to start: storage location, gossip/
// RPC/transfer addresses, seed peer, this node's initial ring tokens, and
// the ingest worker pool size.
type Config struct {
	NodeID          uint16
	Directory       string
	IPAddress       string
	Port            int
	RPCPort         int
	XferPort        int
	SeedIPAddress   string
	SeedPort        int
	Tokens          []uint64
	LoadThreadCount int
	DatabaseURL     string
	RedisURL        string
}

const (
	defaultRPCPort         = 15606
	defaultXferPort        = 15607
	defaultSeedPort        = 15605
	defaultLoadThreadCount = 4
)

// Load reads an optional .env file (missing is not an error), then parses
// args against flags seeded from the resulting environment, flags winning
// over environment, environment winning over the defaults above.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	var nodeID uint16
	var tokens []string

	flags := pflag.NewFlagSet("node", pflag.ContinueOnError)
	flags.Uint16Var(&nodeID, "node-id", envUint16("NODE_ID", 0), "this node's identifier")
	flags.StringVar(&cfg.Directory, "directory", os.Getenv("STIPNODE_DIRECTORY"), "image store root directory")
	flags.StringVar(&cfg.IPAddress, "ip-address", envOr("STIPNODE_IP_ADDRESS", "0.0.0.0"), "gossip bind address")
	flags.IntVar(&cfg.Port, "port", envInt("STIPNODE_PORT", 0), "gossip port")
	flags.IntVar(&cfg.RPCPort, "rpc-port", envInt("STIPNODE_RPC_PORT", defaultRPCPort), "RPC surface port")
	flags.IntVar(&cfg.XferPort, "xfer-port", envInt("STIPNODE_XFER_PORT", defaultXferPort), "transfer protocol port")
	flags.StringVar(&cfg.SeedIPAddress, "seed-ip-address", os.Getenv("STIPNODE_SEED_IP_ADDRESS"), "gossip seed address")
	flags.IntVar(&cfg.SeedPort, "seed-port", envInt("STIPNODE_SEED_PORT", defaultSeedPort), "gossip seed port")
	flags.StringArrayVar(&tokens, "token", nil, "ring token owned by this node (repeatable, u64 decimal)")
	flags.IntVar(&cfg.LoadThreadCount, "load-thread-count", envInt("STIPNODE_LOAD_THREAD_COUNT", defaultLoadThreadCount), "ingest worker pool size")
	flags.StringVar(&cfg.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "album registry Postgres DSN")
	flags.StringVar(&cfg.RedisURL, "redis-url", os.Getenv("REDIS_URL"), "search cache Redis URL (empty disables caching)")

	cmd := &cobra.Command{
		Use:           "node",
		Short:         "stipnode cluster member daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(*cobra.Command, []string) error { return nil },
	}
	cmd.Flags().AddFlagSet(flags)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return Config{}, fmt.Errorf("config: parse flags: %w", err)
	}

	cfg.NodeID = nodeID
	if cfg.Directory == "" {
		return Config{}, fmt.Errorf("config: --directory is required")
	}

	parsedTokens, err := parseTokens(tokens)
	if err != nil {
		return Config{}, err
	}
	cfg.Tokens = parsedTokens

	return cfg, nil
}

func parseTokens(raw []string) ([]uint64, error) {
	tokens := make([]uint64, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid --token %q: %w", s, err)
		}
		tokens = append(tokens, v)
	}
	return tokens, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envUint16(key string, fallback uint16) uint16 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return fallback
	}
	return uint16(n)
}
