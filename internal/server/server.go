/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/duocast/internal/api"
	"github.com/friendsincode/duocast/internal/cache"
	"github.com/friendsincode/duocast/internal/config"
	"github.com/friendsincode/duocast/internal/db"
	"github.com/friendsincode/duocast/internal/eventbus"
	"github.com/friendsincode/duocast/internal/events"
	"github.com/friendsincode/duocast/internal/hls"
	"github.com/friendsincode/duocast/internal/media"
	"github.com/friendsincode/duocast/internal/rooms"
	"github.com/friendsincode/duocast/internal/signal"
	"github.com/friendsincode/duocast/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db      *gorm.DB
	cache   *cache.Cache
	bus     *events.Bus
	natsPub *eventbus.Publisher
	pool    *media.Pool
	store   *rooms.Store
	orch    *rooms.Orchestrator
	hub     *signal.Hub
	api     *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Option overrides a wiring default, used by tests to substitute process
// spawners with fakes.
type Option func(*wiring)

type wiring struct {
	mediaSpawn media.SpawnFunc
	hlsSpawn   hls.SpawnFunc
}

// WithMediaSpawner replaces the media-router worker launcher.
func WithMediaSpawner(spawn media.SpawnFunc) Option {
	return func(w *wiring) { w.mediaSpawn = spawn }
}

// WithTranscoderSpawner replaces the HLS transcoder launcher.
func WithTranscoderSpawner(spawn hls.SpawnFunc) Option {
	return func(w *wiring) { w.hlsSpawn = spawn }
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	var wire wiring
	for _, opt := range opts {
		opt(&wire)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	router.Use(telemetry.TracingMiddleware("duocast-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip the request timeout for the signaling websocket and HLS pulls,
	// both of which legitimately outlive 60 seconds.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/ws" || strings.HasPrefix(r.URL.Path, "/hls/") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(&wire); err != nil {
		srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris, but leave
		// read/write deadlines open for long-lived signaling connections.
		// The middleware timeout (60s) covers non-streaming routes.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; media-src 'self' blob:; connect-src 'self' ws: wss:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights and stamps allowed origins on responses.
// Viewer pages are typically hosted on a different origin than the API.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	wildcard := false
	for _, origin := range allowed {
		if origin == "*" {
			wildcard = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				grant := ""
				if wildcard {
					grant = "*"
				} else {
					for _, candidate := range allowed {
						if strings.EqualFold(candidate, origin) {
							grant = origin
							break
						}
					}
				}
				if grant != "" {
					w.Header().Set("Access-Control-Allow-Origin", grant)
					w.Header().Set("Vary", "Origin")
					if r.Method == http.MethodOptions {
						w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
						w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
						w.Header().Set("Access-Control-Max-Age", "300")
						w.WriteHeader(http.StatusNoContent)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) initDependencies(wire *wiring) error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Transcoder output root must exist before the first pipeline spawns.
	if err := os.MkdirAll(s.cfg.HLSPath, 0755); err != nil {
		return fmt.Errorf("create hls directory %s: %w", s.cfg.HLSPath, err)
	}
	s.logger.Info().Str("path", s.cfg.HLSPath).Msg("hls directory ready")

	// Redis mirror for the public directory endpoints.
	if s.cfg.CacheURL != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = strings.TrimPrefix(s.cfg.CacheURL, "redis://")
		directoryCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = directoryCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	// NATS fan-out for room lifecycle events.
	if s.cfg.NATSURL != "" {
		pub, err := eventbus.NewPublisher(s.cfg.NATSURL, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS bridge unavailable, events stay in-process")
		} else {
			s.natsPub = pub
			s.DeferClose(func() error { return s.natsPub.Close() })
		}
	}

	spawn := wire.mediaSpawn
	if spawn == nil {
		spawn = media.DefaultSpawner(media.WorkerSettings{
			Bin:        s.cfg.WorkerBin,
			LogLevel:   s.cfg.WorkerLogLevel,
			RTPMinPort: s.cfg.RTPMinPort,
			RTPMaxPort: s.cfg.RTPMaxPort,
		}, s.logger)
	}
	pool, err := media.NewPool(context.Background(), s.cfg.WorkerCount, spawn, s.bus, s.logger)
	if err != nil {
		return fmt.Errorf("boot media worker pool: %w", err)
	}
	s.pool = pool
	s.DeferClose(func() error { s.pool.Close(); return nil })

	s.store = rooms.NewStore(database, s.logger)

	s.orch = rooms.New(rooms.Options{
		Pool:             s.pool,
		Store:            s.store,
		Bus:              s.bus,
		MediaListenIP:    s.cfg.MediaListenIP,
		MediaAnnouncedIP: s.cfg.MediaAnnouncedIP,
		ForceTCP:         s.cfg.ForceTCP,
		HLSPath:          s.cfg.HLSPath,
		TranscoderBin:    s.cfg.TranscoderBin,
		HLSSpawn:         wire.hlsSpawn,
		Logger:           s.logger,
	})
	s.DeferClose(func() error { s.orch.Close(); return nil })

	s.hub = signal.NewHub(s.orch, s.logger)
	s.api = api.New(s.store, s.orch, s.cache, s.cfg.HLSPath, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the HTTP handler for in-process test servers.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Database pool metrics updater.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops stale directory entries whenever room
// or pipeline state changes, so REST polls converge faster than the TTLs.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	roomCreated := s.bus.Subscribe(events.EventRoomCreated)
	roomClosed := s.bus.Subscribe(events.EventRoomClosed)
	hlsStarted := s.bus.Subscribe(events.EventHLSStarted)
	hlsStopped := s.bus.Subscribe(events.EventHLSStopped)

	defer func() {
		s.bus.Unsubscribe(events.EventRoomCreated, roomCreated)
		s.bus.Unsubscribe(events.EventRoomClosed, roomClosed)
		s.bus.Unsubscribe(events.EventHLSStarted, hlsStarted)
		s.bus.Unsubscribe(events.EventHLSStopped, hlsStopped)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case <-roomCreated:
			s.cache.InvalidateRoomList(ctx)

		case payload := <-roomClosed:
			s.cache.InvalidateRoomList(ctx)
			if roomID, ok := payload["room_id"].(string); ok {
				s.cache.InvalidateStream(ctx, roomID)
			}

		case payload := <-hlsStarted:
			s.cache.InvalidateRoomList(ctx)
			if roomID, ok := payload["room_id"].(string); ok {
				s.cache.InvalidateStream(ctx, roomID)
			}

		case payload := <-hlsStopped:
			s.cache.InvalidateRoomList(ctx)
			if roomID, ok := payload["room_id"].(string); ok {
				s.cache.InvalidateStream(ctx, roomID)
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get("/ws", s.hub.HandleWebSocket)

	s.api.Routes(s.router)
}
