package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/gate"
	"github.com/hshadab/morpho/internal/infra/auth"
	"github.com/hshadab/morpho/internal/policy"
	"github.com/hshadab/morpho/internal/registry"
	"go.uber.org/zap"
)

// Server — HTTP-поверхность гейта: management-периметр владельца (RS256)
// и операционная поверхность агента (учетные данные — само доказательство).
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки owner-токенов (RS256); nil — открытый
	// management-периметр (только локальный стенд и тесты)
	authValidator auth.TokenValidator

	policies   *policy.Store
	agents     *registry.Registry
	gate       *gate.ProofGate
	limits     *gate.LimitEnforcer
	dispatcher *gate.Dispatcher
}

func New(
	authValidator auth.TokenValidator,
	policies *policy.Store,
	agents *registry.Registry,
	pg *gate.ProofGate,
	limits *gate.LimitEnforcer,
	dispatcher *gate.Dispatcher,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("gate-api"),
		authValidator: authValidator,
		policies:      policies,
		agents:        agents,
		gate:          pg,
		limits:        limits,
		dispatcher:    dispatcher,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. MANAGEMENT-ПЕРИМЕТР ВЛАДЕЛЬЦА (RS256 токен) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		}

		// Реестр политик (content-addressed)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Post("/", s.handleRegisterPolicy)
			r.Get("/{hash}", s.handleGetPolicy)
		})

		// Авторизация и отзыв агентов
		r.Route("/v1/agents/{agent}", func(r chi.Router) {
			r.Post("/authorize", s.handleAuthorizeAgent)
			r.Post("/revoke", s.handleRevokeAgent)
		})
	})

	// --- 4. ПОВЕРХНОСТЬ АГЕНТА (учетные данные — доказательство) ---
	r.Group(func(r chi.Router) {
		r.Route("/v1/operations", func(r chi.Router) {
			r.Post("/supply", s.handleOperation(domain.OpSupply))
			r.Post("/borrow", s.handleOperation(domain.OpBorrow))
			r.Post("/withdraw", s.handleOperation(domain.OpWithdraw))
			r.Post("/repay", s.handleOperation(domain.OpRepay))
		})

		// Read-only поверхность
		r.Get("/v1/agents/{agent}", s.handleGetAgent)
		r.Get("/v1/agents/{agent}/limits", s.handleGetLimits)
		r.Get("/v1/agents/{agent}/authorized", s.handleIsAuthorized)

		// Dry-run проверка доказательства: без потребления и без исполнения
		r.Post("/v1/proofs/verify", s.handleVerifyProof)
	})
}
