// Package httpapi is the HTTP surface of the affidavit service: request
// workflow, issued affidavits, anchoring/verification, uploads and the
// decision event stream.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"affidblock.io/internal/affidavit"
	"affidblock.io/internal/auth"
	"affidblock.io/internal/identity"
	"affidblock.io/internal/obs"
	"affidblock.io/internal/storage"
	"affidblock.io/internal/stream"
)

// ReadyProbe checks backing-store readiness for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. Collaborators that are nil disable their
// endpoints with 503 instead of panicking: the service runs without a
// chain endpoint or an object store.
type API struct {
	svc      affidavit.Service
	bridge   *affidavit.Bridge
	users    *identity.Service
	tokens   *auth.TokenService
	objects  storage.ObjectStore
	events   *stream.Stream
	validate *validator.Validate

	ready   ReadyProbe
	version string

	corsOrigins  []string
	maxBodyBytes int64
	rateRPS      float64
	rateBurst    int
}

// Option configures API.
type Option func(*API)

// WithBridge enables the anchoring and verification endpoints.
func WithBridge(b *affidavit.Bridge) Option {
	return func(a *API) { a.bridge = b }
}

// WithObjectStore enables document uploads.
func WithObjectStore(s storage.ObjectStore) Option {
	return func(a *API) { a.objects = s }
}

// WithReadyProbe wires the /readyz database ping.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.ready = rp }
}

// WithVersion sets the version reported by /healthz and /v1/info.
func WithVersion(v string) Option {
	return func(a *API) {
		if v != "" {
			a.version = v
		}
	}
}

// WithCORSOrigins overrides the allowed origins.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) {
		if len(origins) > 0 {
			a.corsOrigins = origins
		}
	}
}

// WithLimits overrides body-size and per-IP rate limits.
func WithLimits(maxBodyBytes int64, rps float64, burst int) Option {
	return func(a *API) {
		if maxBodyBytes > 0 {
			a.maxBodyBytes = maxBodyBytes
		}
		if rps > 0 {
			a.rateRPS = rps
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

// New wires the workflow service, identity and token verifier into the
// HTTP layer.
func New(svc affidavit.Service, users *identity.Service, tokens *auth.TokenService, opts ...Option) *API {
	a := &API{
		svc:          svc,
		users:        users,
		tokens:       tokens,
		events:       stream.New(),
		validate:     validator.New(),
		version:      "dev",
		corsOrigins:  []string{"*"},
		maxBodyBytes: 10 << 20,
		rateRPS:      50,
		rateBurst:    100,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Events exposes the decision stream, e.g. for tests.
func (a *API) Events() *stream.Stream { return a.events }

// Handler builds the routed handler with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           600,
	}))
	r.Use(MaxBodyBytes(a.maxBodyBytes))
	r.Use(RateLimit(a.rateRPS, a.rateBurst))
	r.Use(obs.Instrument)
	r.Use(Logging)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.info)
		r.Post("/auth/register", a.register)
		r.Post("/auth/login", a.login)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/auth/me", a.me)
			r.Post("/auth/wallet", a.connectWallet)
			r.Get("/users", a.listUsers)

			r.Post("/requests", a.createRequest)
			r.Get("/requests", a.listRequests)
			r.Get("/requests/{id}", a.getRequest)
			r.Post("/requests/{id}/decisions", a.recordDecision)

			r.Get("/affidavits", a.listAffidavits)
			r.Get("/affidavits/{id}", a.getAffidavit)
			r.Post("/affidavits/{id}/anchor", a.anchorAffidavit)
			r.Post("/affidavits/{id}/verify", a.verifyAffidavit)

			r.Post("/uploads", a.upload)
			r.Get("/events", a.eventStream)
		})
	})

	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "affidblock-api",
		"version": a.version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "affidblock-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
