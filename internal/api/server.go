// Package api exposes the diagnostics HTTP surface: cache, rate-meter,
// and configuration snapshots for operational visibility. It sits off the
// streaming data path entirely; nothing here is consulted by a
// coordinator or a reader.
package api

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/resonantlabs/streamcache/internal/config"
	"github.com/resonantlabs/streamcache/internal/filecache"
	"github.com/resonantlabs/streamcache/internal/ratemeter"
)

// Server is the diagnostics HTTP server.
type Server struct {
	app           *fiber.App
	cache         *filecache.LRU
	rate          *ratemeter.Meter
	configManager *config.Manager
	logger        *slog.Logger
	ready         atomic.Bool
	startedAt     time.Time
}

// NewServer wires routes over the given collaborators. Any of cache or
// rate may be nil; the corresponding snapshot fields are omitted.
func NewServer(cache *filecache.LRU, rate *ratemeter.Meter, configManager *config.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "streamcache",
		}),
		cache:         cache,
		rate:          rate,
		configManager: configManager,
		logger:        logger,
		startedAt:     time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealthz)
	apiGroup := s.app.Group("/api")
	apiGroup.Get("/stats", s.handleStats)
	apiGroup.Get("/config", s.handleConfig)
	apiGroup.Delete("/cache/:id", s.handleCacheRemove)
}

// IsReady reports whether the server has been marked ready.
func (s *Server) IsReady() bool { return s.ready.Load() }

// SetReady flips the readiness flag returned by /healthz.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Listen blocks serving on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("diagnostics server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	if !s.ready.Load() {
		return RespondServiceUnavailable(c, "Service is initializing", "")
	}
	return RespondData(c, fiber.Map{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	data := fiber.Map{}
	if s.cache != nil {
		data["cache"] = fiber.Map{
			"items":       s.cache.ItemCount(),
			"total_bytes": s.cache.TotalSize(),
		}
	}
	if s.rate != nil {
		data["download"] = fiber.Map{
			"rate_bps":          s.rate.Estimate(),
			"rate_bps_last_min": s.rate.RateOver(time.Minute),
		}
	}
	return RespondData(c, data)
}

func (s *Server) handleConfig(c *fiber.Ctx) error {
	if s.configManager == nil {
		return RespondNotFound(c, "config", "no config manager attached")
	}
	return RespondData(c, s.configManager.GetConfig())
}

func (s *Server) handleCacheRemove(c *fiber.Ctx) error {
	if s.cache == nil {
		return RespondNotFound(c, "cache", "no cache attached")
	}
	id := c.Params("id")
	if id == "" {
		return RespondNotFound(c, "cache entry", "missing id")
	}
	s.cache.Remove(id)
	return RespondMessage(c, "cache entry removed")
}
