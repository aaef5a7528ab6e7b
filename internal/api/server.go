package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/driphub/driphub/internal/config"
	"github.com/driphub/driphub/internal/scheduler"
	"github.com/driphub/driphub/internal/storage"
)

type Server struct {
	cfg       config.ServerConfig
	store     storage.Storage
	scheduler *scheduler.Scheduler
	router    *chi.Mux
	log       zerolog.Logger
	http      *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, sched *scheduler.Scheduler, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		scheduler: sched,
		log:       log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	accHandler := NewAccountHandler(s.store)
	sndHandler := NewSenderHandler(s.store)
	cmpHandler := NewCampaignHandler(s.store, s.scheduler)
	statsHandler := NewStatsHandler(s.store)

	// Health check — no auth
	r.Get("/health", statsHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Account management — no bearer auth (admin routes)
		r.Post("/accounts", accHandler.Create)
		r.Get("/accounts", accHandler.List)
		r.Get("/accounts/{id}", accHandler.Get)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			// Senders
			r.Post("/senders", sndHandler.Create)
			r.Get("/senders", sndHandler.List)
			r.Get("/senders/{id}", sndHandler.Get)
			r.Delete("/senders/{id}", sndHandler.Delete)

			// Campaigns
			r.Post("/campaigns", cmpHandler.Schedule)
			r.Get("/campaigns", cmpHandler.List)
			r.Get("/campaigns/{id}", cmpHandler.Get)
			r.Get("/campaigns/{id}/emails", cmpHandler.Emails)
			r.Get("/campaigns/{id}/stats", cmpHandler.Stats)

			// Emails
			r.Get("/emails/{id}", cmpHandler.GetEmail)
			r.Get("/summary", cmpHandler.Summary)

			// Stats
			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
