package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/download"
	"nasmusic.dev/internal/obs"
)

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the HTTP-facing settings.
type Options struct {
	AppName       string
	Version       string
	CORSOrigins   []string
	RateBurst     int
	RatePerSecond float64
	MaxBodyBytes  int64
}

// API is the HTTP layer over the auth, download and audit services.
type API struct {
	router    chi.Router
	ready     ReadinessChecker
	auth      *auth.Service
	downloads *download.Service
	audit     *audit.Logger
	opts      Options
	now       func() time.Time
}

func New(rp ReadinessChecker, authSvc *auth.Service, downloads *download.Service, auditLog *audit.Logger, opts Options) *API {
	if opts.AppName == "" {
		opts.AppName = "NAS Music Downloader"
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		ready:     rp,
		auth:      authSvc,
		downloads: downloads,
		audit:     auditLog,
		opts:      opts,
		now:       time.Now,
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.opts.CORSOrigins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", a.Root)
	r.Get("/health", a.Health)
	r.Get("/readiness", a.Readiness)
	r.Get("/liveness", a.Liveness)
	r.Handle("/metrics", obs.Handler())

	limit := func(next http.Handler) http.Handler {
		return RateLimit(next, a.opts.RateBurst, a.opts.RatePerSecond)
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(limit).Post("/register", a.handleRegister)
		r.With(limit).Post("/login", a.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			r.Post("/logout", a.handleLogout)
			r.Get("/me", a.handleMe)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Post("/download", a.handleDownload)
		r.Get("/downloads", a.handleListDownloads)
		r.Get("/downloads/{id}", a.handleGetDownload)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.requireAuth, requireAdmin)
		r.Get("/users", a.handleListUsers)
		r.Patch("/users/{id}", a.handleUpdateUser)
		r.Get("/audit", a.handleListAudit)
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

// --- monitor ---

func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to " + a.opts.AppName,
		"version": a.opts.Version,
		"status":  "running",
	})
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": a.opts.AppName,
	})
}

func (a *API) Readiness(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Check(ctx); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"utc_dt": a.now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *API) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "Success"})
}

// --- helpers ---

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
