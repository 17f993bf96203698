/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/melisma/internal/api"
	"github.com/friendsincode/melisma/internal/config"
	"github.com/friendsincode/melisma/internal/engine"
	"github.com/friendsincode/melisma/internal/events"
	"github.com/friendsincode/melisma/internal/logbuffer"
	"github.com/friendsincode/melisma/internal/store"
	"github.com/friendsincode/melisma/internal/telemetry"
)

// Server bundles HTTP and the playback engine.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	db      *gorm.DB
	bus     *events.Bus
	engine  *engine.Engine
	metrics *telemetry.Metrics

	sampleStop chan struct{}
	eventsSub  events.Subscriber
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger, logBuf *logbuffer.Buffer) (*Server, error) {
	db, err := store.Connect(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	bus := events.NewBus()
	settings := store.NewSettings(db)
	qstore := store.NewQueueStore(db, logger)

	eng, err := engine.New(settings, qstore, bus, engine.Options{
		DecoderWorkers: cfg.DecoderWorkers,
		BufferSeconds:  cfg.BufferSeconds,
		MediaRoot:      cfg.MediaRoot,
		DeviceID:       cfg.DeviceID,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	metrics, registry := telemetry.New()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	// Skip the timeout for the event stream (long-running connection).
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/events" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	apiHandler := api.New(eng, bus, logBuf, logger)
	apiHandler.Routes(router)
	router.Handle("/metrics", telemetry.Handler(registry))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		db:         db,
		bus:        bus,
		engine:     eng,
		metrics:    metrics,
		sampleStop: make(chan struct{}),
		eventsSub:  bus.SubscribeAll(events.EventPassageCompleted, events.EventPassageFailed),
	}

	go s.sampleMetrics()

	return s, nil
}

// HTTPServer returns the configured http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Engine exposes the playback engine.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Close stops the engine and background loops.
func (s *Server) Close() error {
	close(s.sampleStop)
	s.engine.Close()

	sqlDB, err := s.db.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

// sampleMetrics mirrors engine observables into Prometheus gauges.
func (s *Server) sampleMetrics() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.sampleStop:
			return
		case payload := <-s.eventsSub:
			switch payload["event"] {
			case string(events.EventPassageCompleted):
				s.metrics.PassagesDecoded.Inc()
			case string(events.EventPassageFailed):
				s.metrics.PassagesFailed.Inc()
			}
		case <-ticker.C:
			state := s.engine.State()
			s.metrics.UnderrunFrames.Set(float64(state.Underruns))
			s.metrics.FramesOutput.Set(float64(state.FramesOutput))
			s.metrics.QueueLength.Set(float64(state.QueueLength))
			s.metrics.Volume.Set(state.Volume)
			for _, buf := range s.engine.Buffers() {
				s.metrics.BufferOccupancy.WithLabelValues(buf.Slot).Set(float64(buf.OccupiedFrames))
			}
		}
	}
}
