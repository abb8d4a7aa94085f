package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"group-chatter/internal/history"
)

// NewRouter builds the operator API. Mutating routes require token as a
// bearer credential when token is non-empty.
func NewRouter(logger zerolog.Logger, svc *Service, token string) *chi.Mux {
	h := &handler{svc: svc}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", h.statsAll)
	r.Get("/stats/daily", h.daily)
	r.Get("/stats/{category}/{channel}", h.statsChannel)

	r.Group(func(r chi.Router) {
		r.Use(requireToken(token))
		r.Delete("/cache", h.clearAll)
		r.Delete("/cache/{category}/{channel}", h.clearChannel)
	})
	return r
}

type handler struct {
	svc *Service
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": h.svc.Uptime(),
	})
}

func (h *handler) statsAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.StatsAll())
}

func (h *handler) statsChannel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.StatsFor(keyFromPath(r)))
}

func (h *handler) daily(w http.ResponseWriter, r *http.Request) {
	date := time.Now().In(h.svc.Location())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	ds, err := h.svc.Daily(date)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *handler) clearChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(keyFromPath(r)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) clearAll(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.ClearAll(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func keyFromPath(r *http.Request) history.Key {
	return history.Key{
		Category:  chi.URLParam(r, "category"),
		ChannelID: chi.URLParam(r, "channel"),
	}
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
