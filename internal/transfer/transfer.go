// Package transfer implements the point-to-point binary tile push: a
// sender that dials a fresh TCP connection per tile and a receiver that
// runs a bounded-concurrency accept loop, persisting each tile via
// internal/store. There is no acknowledgement; see Send's doc comment for
// why that is intentional, not an oversight.
package transfer

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"

	humanize "github.com/dustin/go-humanize"

	"github.com/jcom-dev/stipnode/internal/codec"
	"github.com/jcom-dev/stipnode/internal/store"
)

const (
	opWrite byte = 0x01 // 0x00 (Read) is reserved, not implemented
)

// Header is the fixed+variable-length metadata that precedes a tile's raster
// payload on the wire. String fields are length-prefixed with a single
// byte, so each must be ≤ 255 bytes UTF-8.
type Header struct {
	Album           string
	Platform        string
	Geocode         string
	Band            string
	Source          store.Source
	Tile            string
	SubdatasetIndex uint8
	StartTimestamp  int64
	EndTimestamp    int64
	PixelCoverage   float64
	CloudCoverage   float64 // NaN == unknown
}

func (h Header) toMetadata() store.Metadata {
	return store.Metadata{
		Album:           h.Album,
		Platform:        h.Platform,
		Geocode:         h.Geocode,
		Band:            h.Band,
		Source:          h.Source,
		Tile:            h.Tile,
		SubdatasetIndex: h.SubdatasetIndex,
		StartTimestamp:  h.StartTimestamp,
		EndTimestamp:    h.EndTimestamp,
		PixelCoverage:   h.PixelCoverage,
		CloudCoverage:   h.CloudCoverage,
	}
}

func headerFromMetadata(m store.Metadata) Header {
	return Header{
		Album:           m.Album,
		Platform:        m.Platform,
		Geocode:         m.Geocode,
		Band:            m.Band,
		Source:          m.Source,
		Tile:            m.Tile,
		SubdatasetIndex: m.SubdatasetIndex,
		StartTimestamp:  m.StartTimestamp,
		EndTimestamp:    m.EndTimestamp,
		PixelCoverage:   m.PixelCoverage,
		CloudCoverage:   m.CloudCoverage,
	}
}

func writeLenPrefixed(w io.Writer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("transfer: field %q exceeds 255 bytes", s)
	}
	if _, err := w.Write([]byte{byte(len(s))}); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLenPrefixed(r io.Reader) (string, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	buf := make([]byte, lenBuf[0])
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeHeader(w io.Writer, h Header) error {
	if _, err := w.Write([]byte{opWrite}); err != nil {
		return err
	}
	for _, s := range []string{h.Album, h.Platform, h.Geocode, h.Band, string(h.Source), h.Tile} {
		if err := writeLenPrefixed(w, s); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte{h.SubdatasetIndex}); err != nil {
		return err
	}

	var fixed [24]byte
	binary.BigEndian.PutUint64(fixed[0:8], uint64(h.StartTimestamp))
	binary.BigEndian.PutUint64(fixed[8:16], uint64(h.EndTimestamp))
	binary.BigEndian.PutUint64(fixed[16:24], math.Float64bits(h.PixelCoverage))
	if _, err := w.Write(fixed[:]); err != nil {
		return err
	}

	var cloud [8]byte
	binary.BigEndian.PutUint64(cloud[:], math.Float64bits(h.CloudCoverage))
	_, err := w.Write(cloud[:])
	return err
}

func readHeader(r io.Reader) (Header, error) {
	var opBuf [1]byte
	if _, err := io.ReadFull(r, opBuf[:]); err != nil {
		return Header{}, fmt.Errorf("transfer: read op: %w", err)
	}
	if opBuf[0] != opWrite {
		return Header{}, fmt.Errorf("transfer: unsupported operation type %#x", opBuf[0])
	}

	fields := make([]string, 6)
	for i := range fields {
		s, err := readLenPrefixed(r)
		if err != nil {
			return Header{}, fmt.Errorf("transfer: read field %d: %w", i, err)
		}
		fields[i] = s
	}

	var subdsBuf [1]byte
	if _, err := io.ReadFull(r, subdsBuf[:]); err != nil {
		return Header{}, fmt.Errorf("transfer: read subdataset index: %w", err)
	}

	var fixed [32]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, fmt.Errorf("transfer: read fixed fields: %w", err)
	}

	return Header{
		Album:           fields[0],
		Platform:        fields[1],
		Geocode:         fields[2],
		Band:            fields[3],
		Source:          store.Source(fields[4]),
		Tile:            fields[5],
		SubdatasetIndex: subdsBuf[0],
		StartTimestamp:  int64(binary.BigEndian.Uint64(fixed[0:8])),
		EndTimestamp:    int64(binary.BigEndian.Uint64(fixed[8:16])),
		PixelCoverage:   math.Float64frombits(binary.BigEndian.Uint64(fixed[16:24])),
		CloudCoverage:   math.Float64frombits(binary.BigEndian.Uint64(fixed[24:32])),
	}, nil
}

// Send pushes one tile to addr over a fresh TCP connection: write the
// header, write the raster payload, close. There is no acknowledgement:
// ingest is idempotent (re-running a load/split job re-pushes the same
// (geocode, tile, subdataset_index) and the store overwrites), so an ack
// would double round-trips without buying correctness.
func Send(addr string, m store.Metadata, ds *codec.Dataset) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("transfer: dial %q: %w", addr, err)
	}
	defer conn.Close()

	if err := writeHeader(conn, headerFromMetadata(m)); err != nil {
		return fmt.Errorf("transfer: write header: %w", err)
	}
	n, err := ds.WriteTo(conn)
	if err != nil {
		return fmt.Errorf("transfer: write raster payload: %w", err)
	}
	slog.Debug("transfer: sent tile", "tile", m.Tile, "geocode", m.Geocode, "addr", addr, "size", humanize.Bytes(uint64(n)))
	return nil
}

// DefaultWorkers is the receiver's default bounded accept-loop concurrency.
const DefaultWorkers = 50

// Server is the transfer receiver: a bounded-concurrency TCP accept loop
// that decodes each connection's header and raster payload and persists it
// through a store.Store.
type Server struct {
	listener net.Listener
	store    *store.Store
	workers  int
	sem      chan struct{}
}

// NewServer binds addr and returns a Server ready to Serve. workers <= 0
// uses DefaultWorkers.
func NewServer(addr string, s *store.Store, workers int) (*Server, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transfer: listen %q: %w", addr, err)
	}
	return &Server{listener: ln, store: s, workers: workers, sem: make(chan struct{}, workers)}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// Serve runs the accept loop until the listener is closed. Each accepted
// connection is handled by a goroutine, bounded to s.workers concurrently in
// flight: excess connections block in accept until a slot frees, which
// backpressures the sender rather than spawning unbounded goroutines.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}

		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	h, err := readHeader(conn)
	if err != nil {
		slog.Warn("transfer: failed to read header, dropping connection", "remote_addr", conn.RemoteAddr(), "error", err)
		return
	}

	ds, err := codec.ReadFrom(conn)
	if err != nil {
		slog.Warn("transfer: failed to read raster payload, dropping tile", "tile", h.Tile, "geocode", h.Geocode, "error", err)
		return
	}
	defer ds.Close()

	m := h.toMetadata()
	if err := s.store.Write(m, ds.CreateCopy); err != nil {
		slog.Warn("transfer: failed to persist tile", "tile", h.Tile, "geocode", h.Geocode, "error", err)
		return
	}
}
