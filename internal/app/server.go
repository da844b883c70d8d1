package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pagemark-io/pagemark/internal/api/handlers"
	middleware "github.com/pagemark-io/pagemark/internal/api/middlewares"
	"github.com/pagemark-io/pagemark/internal/config"
	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/core/answer"
	"github.com/pagemark-io/pagemark/internal/core/ingest"
	objectclient "github.com/pagemark-io/pagemark/internal/core/object-client"
	"github.com/pagemark-io/pagemark/internal/core/retrieval"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	log *logger.Logger,
	db core.DbClient,
	obj core.ObjectClient,
	locator *objectclient.Locator,
	coordinator *ingest.Coordinator,
	retriever *retrieval.Retriever,
	streamer *answer.Streamer,
) *Server {
	authHandler := handlers.NewAuthHandler(db, cfg.JWTSecret, log)
	docHandler := handlers.NewDocumentHandler(db, obj, locator, coordinator, log)
	chatHandler := handlers.NewChatHandler(db, retriever, streamer, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		api.Group(func(protected chi.Router) {
			protected.Use(middleware.Auth(cfg.JWTSecret))

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{documentID}", docHandler.GetDocument)
			protected.Get("/documents/{documentID}/file", docHandler.DownloadDocument)
			protected.Post("/documents/{documentID}/ingest", docHandler.IngestDocument)
			protected.Post("/documents/{documentID}/embed", docHandler.EmbedNextBatch)
			protected.Post("/documents/{documentID}/pages", docHandler.UploadPageImage)
			protected.Get("/documents/{documentID}/pages", docHandler.ListPageImages)

			protected.Post("/chat", chatHandler.Chat)
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
