package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"quotewell.org/internal/contacts"
	"quotewell.org/internal/obs"
	"quotewell.org/internal/quotetoken"
	"quotewell.org/internal/usage"
)

// ReadyProbe reports readiness (e.g. a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the contact-tracking core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	contacts contacts.Service
	reporter *usage.Reporter
	codec    *quotetoken.Codec

	rateBurst  int
	ratePerSec int
}

// Option configures API.
type Option func(*API)

// WithRateLimit overrides the default per-client rate limit.
func WithRateLimit(burst, perSec int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSec > 0 {
			a.ratePerSec = perSec
		}
	}
}

func New(rp ReadyProbe, version string, svc contacts.Service, reporter *usage.Reporter, codec *quotetoken.Codec, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		contacts:   svc,
		reporter:   reporter,
		codec:      codec,
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// contact tracking
	a.mux.HandleFunc("/v1/contacts/track", a.handleTrack)
	a.mux.HandleFunc("/v1/contacts/track-batch", a.handleTrackBatch)
	a.mux.Handle("/v1/contacts/reset", RequireRole("admin")(http.HandlerFunc(a.handleReset)))
	a.mux.HandleFunc("/v1/contacts", a.handleListContacts)

	// quote links
	a.mux.HandleFunc("/v1/quote-links", a.handleMintQuoteLink)
	a.mux.HandleFunc("/v1/quote-links/", a.handleResolveQuoteLink)

	// usage
	a.mux.HandleFunc("/v1/usage/", a.handleUsage)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "quotewell-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "quotewell-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
