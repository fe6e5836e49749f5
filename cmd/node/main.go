// stipnode cluster member daemon.
//
//	@title			stipnode Node RPC Surface
//	@version		1.0
//	@description	Distributed geospatial raster storage node: album registry, image store, DHT-routed placement, ingest/split/fill pipelines, cluster broadcast, and cluster-wide query.
//
//	@license.name	MIT
//
//	@BasePath	/api/v1
//
//	@tag.name			AlbumManagement
//	@tag.description	Create and list albums
//
//	@tag.name			ImageManagement
//	@tag.description	List, search, load, fill, and split imagery
//
//	@tag.name			NodeManagement
//	@tag.description	Cluster membership
//
//	@tag.name			TaskManagement
//	@tag.description	Long-running job status
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jcom-dev/stipnode/internal/cache"
	"github.com/jcom-dev/stipnode/internal/config"
	"github.com/jcom-dev/stipnode/internal/db"
	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/membership"
	"github.com/jcom-dev/stipnode/internal/query"
	"github.com/jcom-dev/stipnode/internal/rpc"
	"github.com/jcom-dev/stipnode/internal/store"
	"github.com/jcom-dev/stipnode/internal/task"
	"github.com/jcom-dev/stipnode/internal/transfer"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	st, err := store.Open(cfg.Directory)
	if err != nil {
		slog.Error("failed to open store", "directory", cfg.Directory, "error", err)
		os.Exit(1)
	}

	rpcAddr := net.JoinHostPort(cfg.IPAddress, strconv.Itoa(cfg.RPCPort))
	xferAddr := net.JoinHostPort(cfg.IPAddress, strconv.Itoa(cfg.XferPort))
	self := dht.Peer{NodeID: cfg.NodeID, RPCAddr: rpcAddr, XferAddr: xferAddr}

	d := dht.New()

	var seedAddr string
	if cfg.SeedIPAddress != "" {
		seedAddr = net.JoinHostPort(cfg.SeedIPAddress, strconv.Itoa(cfg.SeedPort))
	}
	poller := membership.NewSeedPoller(seedAddr, membership.Self{Tokens: cfg.Tokens, Peer: self}, 5*time.Second, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	albumDB, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open album registry", "error", err)
		os.Exit(1)
	}
	defer albumDB.Close()

	var searchCache *cache.Cache
	if cfg.RedisURL != "" {
		searchCache, err = cache.New()
		if err != nil {
			slog.Warn("search cache initialization failed, continuing without it", "error", err)
		} else {
			defer searchCache.Close()
		}
	}

	tasks := task.NewManager(0)

	httpClient := rpc.NewHTTPClient()
	aggregator := &query.Aggregator{
		DHT:        d,
		Local:      st,
		SelfNodeID: cfg.NodeID,
		Client:     httpClient,
		Cache:      searchCache,
		CacheTTL:   cache.DefaultTTL,
	}

	server := &rpc.Server{
		DB:         albumDB,
		Store:      st,
		DHT:        d,
		Tasks:      tasks,
		Aggregator: aggregator,
		Dispatcher: httpClient,
	}

	xferSrv, err := transfer.NewServer(xferAddr, st, transfer.DefaultWorkers)
	if err != nil {
		slog.Error("failed to start transfer server", "addr", xferAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		if err := xferSrv.Serve(); err != nil {
			slog.Warn("transfer server stopped", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:         rpcAddr,
		Handler:      server.NewRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("RPC server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("stipnode running", "node_id", cfg.NodeID, "rpc_addr", rpcAddr, "xfer_addr", xferAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()
	xferSrv.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("RPC server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("stipnode exited")
}
