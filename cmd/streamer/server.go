package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/version"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// newDebugRouter serves health and diagnostics for feed. store may be nil.
func newDebugRouter(feed model.Feed, provider string, store pinger, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		d := feed.Diagnostics()

		health := struct {
			Status      string `json:"status"`
			Provider    string `json:"provider"`
			Connected   bool   `json:"connected"`
			RateLimited bool   `json:"rate_limited"`
			Symbols     int    `json:"symbols"`
			Store       string `json:"store,omitempty"`
		}{
			Status:      "healthy",
			Provider:    provider,
			Connected:   d.Connected,
			RateLimited: d.RateLimited,
			Symbols:     len(d.ActiveSymbols) + len(d.PendingSymbols),
		}

		// Idle with nothing wanted is healthy; wanting data while offline is not.
		code := http.StatusOK
		if !d.Connected && health.Symbols > 0 {
			health.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Store = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				health.Store = "connected"
			}
		}
		writeJSON(w, code, health, logger)
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.Info(), logger)
	})

	r.Route("/debug", func(r chi.Router) {
		r.Get("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, feed.Diagnostics(), logger)
		})

		r.Get("/symbols/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			sym := strings.ToUpper(chi.URLParam(r, "symbol"))
			state := feed.Diagnostics().SymbolState(sym)
			writeJSON(w, http.StatusOK, map[string]string{
				"symbol": sym,
				"state":  state.String(),
			}, logger)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", "error", err)
	}
}
