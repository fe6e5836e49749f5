package rpc

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/jcom-dev/stipnode/internal/cluster"
	"github.com/jcom-dev/stipnode/internal/db"
	"github.com/jcom-dev/stipnode/internal/dht"
	custommw "github.com/jcom-dev/stipnode/internal/middleware"
	"github.com/jcom-dev/stipnode/internal/query"
	"github.com/jcom-dev/stipnode/internal/store"
	"github.com/jcom-dev/stipnode/internal/task"
)

// Server holds every dependency the four RPC services need. It has no
// network listener of its own: NewRouter builds an http.Handler that
// cmd/node wraps in a plain http.Server.
type Server struct {
	DB         *db.DB
	Store      *store.Store
	DHT        *dht.DHT
	Tasks      *task.Manager
	Aggregator *query.Aggregator
	Dispatcher cluster.Dispatcher
}

// NewRouter builds the chi router for the node RPC surface: request id,
// real ip, logging, recovery, timeout, security headers, and CORS
// middleware, with swagger docs exposed at /swagger/*.
func (s *Server) NewRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.LogFailedRequestBodies)
	r.Use(custommw.Logger)
	r.Use(custommw.Recoverer)
	r.Use(custommw.Timeout(30 * time.Second))
	r.Use(custommw.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/health", s.HealthCheck)
	// Outside /api/v1 on purpose: internal/membership's SeedPoller polls this
	// exact path on the seed node, so
	// it is this repo's one truly internal endpoint rather than part of the
	// external-facing API surface the rest of /api/v1 exposes.
	r.Get("/v1/nodes", s.NodeList)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(custommw.ContentType("application/json"))

		r.Route("/albums", func(r chi.Router) {
			r.Post("/", s.CreateAlbum)
			r.Get("/", s.ListAlbums)
		})

		r.Route("/images", func(r chi.Router) {
			r.Post("/list", s.ListImages)
			r.Post("/search", s.SearchImages)
			r.Post("/load", s.LoadImages)
			r.Post("/fill", s.FillImages)
			r.Post("/split", s.SplitImages)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.ListTasks)
			r.Get("/{id}", s.GetTask)
		})
	})

	// Peer-to-peer only: the endpoints cluster.Broadcast's Dispatcher calls
	// on every member to actually run a fill/split pass against that
	// member's own store. Never called by an external client directly.
	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(custommw.ContentType("application/json"))
		r.Post("/fill", s.ExecuteFill)
		r.Post("/split", s.ExecuteSplit)
	})

	return r
}
