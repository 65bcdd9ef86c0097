package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubestellar/pgboard/pkg/api/handlers"
	"github.com/kubestellar/pgboard/pkg/metrics"
	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/snapshot"
)

// Config holds server configuration
type Config struct {
	ListenAddr string
	// AllowOrigins is the CORS origin list; empty allows any origin
	AllowOrigins string
	// AccessLog enables the per-request log line
	AccessLog bool
}

// Server represents the read-only API server
type Server struct {
	app      *fiber.App
	config   Config
	hub      *handlers.Hub
	store    *snapshot.Store[models.MultiClusterSnapshot]
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer creates a new API server. gatherer backs /metrics; nil uses the default registry.
func NewServer(cfg Config, store *snapshot.Store[models.MultiClusterSnapshot], gatherer prometheus.Gatherer, logger *zap.Logger, recorder *metrics.Recorder) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	// WebSocket hub for refresh notifications
	hub := handlers.NewHub(logger, recorder)
	go hub.Run()

	server := &Server{
		app:      app,
		config:   cfg,
		hub:      hub,
		store:    store,
		gatherer: gatherer,
		logger:   logger.Named("api"),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.app.Use(recover.New())

	if s.config.AccessLog {
		s.app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "15:04:05",
		}))
	}

	origins := s.config.AllowOrigins
	if origins == "" {
		origins = "*"
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))
}

func (s *Server) setupRoutes() {
	snapshots := handlers.NewSnapshotHandlers(s.store, s.logger)

	s.app.Get("/health", snapshots.Health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.app.Group("/api")
	api.Get("/snapshot", snapshots.GetSnapshot)
	api.Get("/snapshot/stream", snapshots.StreamSnapshot)
	api.Get("/clusters/:cluster/namespaces/:namespace", snapshots.GetNamespace)

	// WebSocket for refresh notifications
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.hub.HandleConnection))
}

// App exposes the fiber app for in-process requests
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the websocket hub
func (s *Server) Hub() *handlers.Hub {
	return s.hub
}

// NotifyRefresh tells every websocket client that a new snapshot was published
func (s *Server) NotifyRefresh(published models.CachedSnapshot[models.MultiClusterSnapshot]) {
	s.hub.BroadcastAll(handlers.Message{
		Type: handlers.MessageSnapshotRefreshed,
		Data: map[string]any{
			"lastRefresh": published.LastRefresh,
			"refreshId":   published.RefreshID,
		},
	})
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.config.ListenAddr))
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.hub.Close()
	return s.app.Shutdown()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
