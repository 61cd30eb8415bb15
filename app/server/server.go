package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"productrag/app/api"
	"productrag/app/middleware"
)

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
}

func NewServer(addr string, ingester api.Ingester, ext string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		app = fiber.New(fiber.Config{
			ErrorHandler:          api.NewErrorHandler(logger),
			DisableStartupMessage: true,
		})
		checkHandler  = api.NewCheckHandler(ingester)
		ingestHandler = api.NewIngestHandler(ingester, ext, logger)
		check         = app.Group("/check")
		apiv1         = app.Group("/api/v1")
	)

	app.Use(middleware.RequestLogger(logger, "/api/"))

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)
	apiv1.Post("/ingest", ingestHandler.HandleRun)
	apiv1.Post("/documents", ingestHandler.HandleUpload)

	return &Server{
		listenAddr: addr,
		logger:     logger,
		app:        app,
	}
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run blocks until the server stops.
func (s *Server) Run() error {
	s.logger.Info("server started", "addr", s.listenAddr)
	if err := s.app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	defer s.logger.Info("server stopped")
	return s.app.ShutdownWithContext(ctx)
}
