package rest

import (
	"context"
	"net/http"
	"time"

	"coop-settlement/internal/domain"
	"coop-settlement/internal/service"
	"coop-settlement/internal/transport/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Settler interface {
	Settle(ctx context.Context, orderID string) (*domain.SettlementResult, error)
}

type PaymentReader interface {
	GetPayment(ctx context.Context, orderID string) (*domain.Payment, error)
}

type Importer interface {
	StartImport(ctx context.Context, userRef string, data []byte) (string, error)
	GetImport(ctx context.Context, importID, userRef string) (*service.ImportStatus, error)
	ListImports(ctx context.Context, userRef string) ([]*service.ImportStatus, error)
}

type ContractStamper interface {
	MaybeStamp(ctx context.Context, contractRef string) (*string, error)
}

type CommissionReader interface {
	ListCommissions(ctx context.Context, agentRef string) ([]domain.CommissionEntry, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// FileLocator resolves a stored document name to a local path.
type FileLocator interface {
	Path(fileName string) (string, error)
}

type Services struct {
	Settlements Settler
	Payments    PaymentReader
	Imports     Importer
	Stamping    ContractStamper
	Commissions CommissionReader
	Health      map[string]Pinger

	// Files maps a public prefix such as "documents" to the directory
	// serving it.
	Files map[string]FileLocator

	// WebSocket serves the notification stream for an authenticated user.
	WebSocket func(w http.ResponseWriter, r *http.Request, userRef string)
}

type Handler struct {
	svc Services
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWithAuth(nil)
}

// InitRouterWithAuth mounts /health and the file prefixes publicly and everything
// else behind authMiddleware. A nil authMiddleware leaves the API open, which
// is only meant for tests.
func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", h.health)
	for prefix, files := range h.svc.Files {
		r.Get("/"+prefix+"/{file}", serveFile(files))
	}

	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}

		if h.svc.WebSocket != nil {
			r.With(h.require(domain.AbilityNotifications)).Get("/ws", h.serveWebSocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(h.require(domain.AbilitySettle))

			r.Route("/settlements", func(r chi.Router) {
				r.Post("/import", h.startImport)
				r.Get("/imports", h.listImports)
				r.Get("/imports/{import_id}", h.getImport)
				r.Post("/{order_id}", h.settle)
			})
			r.Get("/payments/{order_id}", h.getPayment)
			r.Post("/contracts/{contract_id}/stamp", h.stampContract)
			r.Get("/agents/{agent_id}/commissions", h.listCommissions)
		})
	})

	return r
}

// require enforces ability only when a principal is present, so an
// unauthenticated router used in tests stays reachable.
func (h *Handler) require(ability string) func(http.Handler) http.Handler {
	check := auth.RequireAbility(ability)
	return func(next http.Handler) http.Handler {
		guarded := check(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := auth.GetPrincipal(r.Context()); err != nil {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.svc.Health))
	healthy := true
	for name, p := range h.svc.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		Response(w, "degraded", checks, 503, "error", http.StatusServiceUnavailable)
		return
	}
	Success(w, "ok", checks)
}
