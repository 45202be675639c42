package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/presets"
)

// newPublicRouter serves forward-auth checks: a reverse proxy asks
// GET /check/{preset} before passing a request on, and forwards it only on 2xx.
// Each preset's guard is bound to its own route.
func newPublicRouter(a *app, guards *presets.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(a))
	r.Route("/check", func(r chi.Router) {
		for _, name := range guards.Names() {
			g, _ := guards.Get(name)
			r.With(g.Middleware).Handle("/"+name, http.HandlerFunc(allow))
		}
	})
	return r
}

// newInternalRouter serves metrics and admin operations. It must not be
// reachable by end users.
func newInternalRouter(a *app, guards *presets.Registry, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(a))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/admin/limits", func(r chi.Router) {
		r.Delete("/{identifier}", resetHandler(a))
		r.Get("/{preset}/{identifier}", statusHandler(a, guards))
	})
	r.Get("/admin/events", eventsHandler(a))
	return r
}

func allow(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func healthHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.Ping(r.Context()); err != nil {
			// still serving, just without coordination
			writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func resetHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := chi.URLParam(r, "identifier")
		n, err := a.engine.Reset(r.Context(), identifier)
		if err != nil {
			log.Error().Err(err).Str("identifier", identifier).Msg("failed to reset rate limit")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"identifier": identifier, "deleted_keys": n})
	}
}

func statusHandler(a *app, guards *presets.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "preset")
		g, ok := guards.Get(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown preset " + name})
			return
		}
		d, err := a.engine.Peek(r.Context(), chi.URLParam(r, "identifier"), g.Policy())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func eventsHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 100
		if raw := r.URL.Query().Get("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
				return
			}
			n = v
		}
		list, err := a.reader.Recent(r.Context(), n)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
