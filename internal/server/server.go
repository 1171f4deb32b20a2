// Package server exposes one chart-coding workspace over HTTP, with a
// websocket stream of state snapshots.
package server

import (
	"context"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/gyeh/chartcoder/internal/config"
	"github.com/gyeh/chartcoder/internal/kb"
	"github.com/gyeh/chartcoder/internal/pkg/logger"
	"github.com/gyeh/chartcoder/internal/workflow"
)

const module = "Server"

type Server struct {
	app *fiber.App
	cfg *config.Config
	ws  *workflow.Workspace
	hub *Hub
	kb  *kb.Browser
	log logger.ILogger
}

// New builds the server. browser may be nil, in which case the /kb routes
// are not mounted.
func New(cfg *config.Config, ws *workflow.Workspace, hub *Hub, browser *kb.Browser, log logger.ILogger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             25 * 1024 * 1024, // chart PDFs
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})

	origins := cfg.App.CorsAllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowCredentials: origins != "*",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		ExposeHeaders:    "Content-Length, Content-Type, Content-Disposition",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	s := &Server{app: app, cfg: cfg, ws: ws, hub: hub, kb: browser, log: log}
	s.registerRoutes()
	return s
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

// Run starts the hub and serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	snapshots, unsubscribe := s.ws.Subscribe()
	defer unsubscribe()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx, snapshots)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(module, "workspace server listening", map[string]interface{}{"port": s.cfg.App.Port})
		errCh <- s.app.Listen(":" + s.cfg.App.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info(module, "shutting down", nil)
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	h := &workspaceHandler{ws: s.ws, hub: s.hub, log: s.log}
	h.RegisterRoutes(s.app.Group("/workspace"))

	if s.kb != nil {
		k := &kbHandler{kb: s.kb}
		k.RegisterRoutes(s.app.Group("/kb"))
	}
}
