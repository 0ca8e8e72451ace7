package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sidekick-edu/sidekick-bridge/internal/console"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Host console (embedded via go:embed)
	r.Handle("/console/*", http.StripPrefix("/console", console.Handler(s.consoleDir)))
	r.Handle("/console", http.RedirectHandler("/console/", http.StatusMovedPermanently))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/peripherals", func(r chi.Router) {
			r.Get("/", s.handleListPeripherals)
			r.Post("/scan", s.handleScan)
		})

		r.Route("/connection", func(r chi.Router) {
			r.Get("/", s.handleGetConnection)
			r.Delete("/", s.handleDisconnect)
			r.Post("/toggle", s.handleToggleConnection)
			r.Post("/peripherals/{id}", s.handleConnectPeripheral)
		})

		r.Route("/program", func(r chi.Router) {
			r.Get("/", s.handleGetProgram)
			r.Post("/start", s.handleStartProgram)
			r.Post("/stop", s.handleStopProgram)
		})

		r.Route("/blocks", func(r chi.Router) {
			r.Get("/", s.handleListBlocks)
			r.Post("/{opcode}", s.handleRunBlock)
		})

		wsPath := s.wsCfg.Path
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth reports whether the server is serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}
