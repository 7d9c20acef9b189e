package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/geomux/geomux"
	"github.com/geomux/geomux/internal/config"
	gerrors "github.com/geomux/geomux/pkg/errors"
)

var errNilConfig = errors.New("config is required")

// buildHandler wires routes and the middleware stack into one http.Handler.
func buildHandler(cfg *config.Config, client *geomux.Client, rdb redis.UniversalClient, logger *slog.Logger) (http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	h := &handler{client: client, rdb: rdb, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /v1/cep/{cep}", h.resolveCEP)
	mux.HandleFunc("GET /v1/geocode", h.geocode)
	mux.HandleFunc("GET /v1/stats", h.stats)

	if cfg.Metrics.Enabled {
		if err := registerCollectors(client); err != nil {
			return nil, err
		}
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	return buildMiddlewareStack(logger)(mux), nil
}

// registerCollectors registers the cache stat collectors on the default
// registry, tolerating re-registration in tests.
func registerCollectors(client *geomux.Client) error {
	for _, c := range client.Collectors() {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

type handler struct {
	client *geomux.Client
	rdb    redis.UniversalClient
	logger *slog.Logger
}

func (h *handler) resolveCEP(w http.ResponseWriter, r *http.Request) {
	addr, err := h.client.ResolveAddress(r.Context(), r.PathValue("cep"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (h *handler) geocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		coords *geomux.Coordinates
		err    error
	)
	if freeForm := q.Get("q"); freeForm != "" {
		coords, err = h.client.Geocode(r.Context(), freeForm)
	} else if q.Get("city") != "" || q.Get("state") != "" {
		coords, err = h.client.GeocodeStructured(r.Context(), geomux.StructuredQuery{
			Street:  q.Get("street"),
			City:    q.Get("city"),
			State:   q.Get("state"),
			Country: q.Get("country"),
		})
	} else {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Type:    "InvalidRequest",
			Message: "either q or city and state query parameters are required",
		}})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coords)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	address, geocoding := h.client.Stats()
	writeJSON(w, http.StatusOK, map[string]geomux.CacheStats{
		"cep":       address,
		"geocoding": geocoding,
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	// The cache fails open, so a down Redis degrades performance but does
	// not make the service unhealthy.
	redisStatus := "ok"
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		redisStatus = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"redis":  redisStatus,
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string         `json:"type,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses: not-founds and
// replayed cached failures are 404, overload and degraded chains 503, fetch
// timeouts 504, anything else 500.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e := gerrors.AsError(err); e != nil {
		status := e.HTTPStatusCode()
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "lookup failed",
				"kind", string(e.Kind), "error", err)
		}
		writeJSON(w, status, errorBody{Error: errorDetail{
			Type:    e.ErrorType,
			Message: e.Message,
			Data:    e.Data,
		}})
		return
	}

	h.logger.ErrorContext(r.Context(), "lookup failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
		Message: "internal server error",
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
