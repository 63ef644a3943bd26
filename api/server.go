/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: One zap line per request (method, path, status, latency)
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for frontend
  5. Authenticator: Bearer token -> ledger.Principal (on /api only)

ROUTE GROUPS:
  /healthz                  Liveness, unauthenticated
  /api/policies/*           Policy lifecycle
  /api/claims/*             Claim lifecycle
  /api/treaties/*           Treaty registry
  /api/allocations/*        Allocation reads
  /api/audit/*              Audit queries (mutations always rejected)
  /api/admin/*              User directory, log level
  /api/reconciliation/*     Sweep reports
  /api/scenarios/*          Demo books

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticator
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/ledger"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string

	// LogLevel, when set, is served at /api/admin/log/level for ADMIN
	// principals (GET current level, PUT {"level":"debug"}).
	LogLevel http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Put("/{id}/submit", h.SubmitPolicy)
			r.Put("/{id}/approve", h.ApprovePolicy)
			r.Get("/{id}/audit", h.GetPolicyAudit)
			r.Get("/{id}/reconciliation", h.GetPolicyReconciliation)
		})

		// Claim routes
		r.Route("/claims", func(r chi.Router) {
			r.Get("/", h.ListClaims)
			r.Post("/", h.CreateClaim)
			r.Get("/{id}", h.GetClaim)
			r.Put("/{id}/{step}", h.AdvanceClaim)
		})

		// Treaty routes
		r.Route("/treaties", func(r chi.Router) {
			r.Get("/", h.ListTreaties)
			r.Post("/", h.CreateTreaty)
			r.Get("/{id}", h.GetTreaty)
			r.Delete("/{id}", h.DeleteTreaty)
		})

		// Allocation routes
		r.Route("/allocations", func(r chi.Router) {
			r.Get("/", h.ListAllocations)
			r.Get("/policy/{policyId}", h.GetPolicyAllocations)
		})

		// Audit routes
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.QueryAudit)
			r.Put("/{id}", h.UpdateAudit)
			r.Delete("/{id}", h.DeleteAudit)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/users", h.ListUsers)
			r.Post("/users", h.CreateUser)
			r.Put("/users/{id}/role", h.UpdateUserRole)
			r.Delete("/users/{id}", h.DeleteUser)
			if opts.LogLevel != nil {
				r.With(h.requireAdmin("change log level")).Handle("/log/level", opts.LogLevel)
			}
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/reports", h.ListReconciliationReports)
			r.Post("/run", h.RunReconciliation)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

func (h *Handler) requireAdmin(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := PrincipalFrom(r.Context()).Authorize(operation, ledger.RoleAdmin); err != nil {
				h.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
