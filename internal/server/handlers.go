package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/gate"
	"github.com/hshadab/morpho/internal/infra/auth"
	"go.uber.org/zap"
)

// handleRegisterPolicy: POST /v1/policies
func (s *Server) handleRegisterPolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.SpendingPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "malformed policy body")
		return
	}

	hash, err := s.policies.Register(r.Context(), p)
	if err != nil {
		s.logger.Error("policy registration failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"policy_hash": hash})
}

// handleGetPolicy: GET /v1/policies/{hash}
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	p, ok := s.policies.Get(hash)
	if !ok {
		writeError(w, domain.ErrPolicyNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type authorizeRequest struct {
	PolicyHash string `json:"policy_hash"`
	SigningKey string `json:"signing_key"` // base64 Ed25519 публичный ключ
}

// handleAuthorizeAgent: POST /v1/agents/{agent}/authorize
func (s *Server) handleAuthorizeAgent(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "owner identity required"})
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed authorize body")
		return
	}
	key, err := base64.StdEncoding.DecodeString(req.SigningKey)
	if err != nil {
		writeBadRequest(w, "signing_key must be base64")
		return
	}

	if err := s.agents.Authorize(r.Context(), owner, agent, req.PolicyHash, key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent": agent, "policy_hash": req.PolicyHash})
}

// handleRevokeAgent: POST /v1/agents/{agent}/revoke
func (s *Server) handleRevokeAgent(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "owner identity required"})
		return
	}

	if err := s.agents.Revoke(r.Context(), owner, agent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent": agent, "status": "revoked"})
}

type operationRequest struct {
	Agent    string `json:"agent"`
	Market   string `json:"market"`
	Amount   uint64 `json:"amount"`
	OnBehalf string `json:"on_behalf"`
	Receiver string `json:"receiver,omitempty"`

	Proof proofEnvelope `json:"proof"`
}

type proofEnvelope struct {
	PolicyHash   string        `json:"policy_hash"`
	Proof        []byte        `json:"proof"` // base64 в JSON
	PublicInputs []domain.Word `json:"public_inputs"`
	Timestamp    int64         `json:"timestamp"` // unix seconds
	Signature    []byte        `json:"signature"`
}

func (e proofEnvelope) toDomain() domain.SpendingProof {
	return domain.SpendingProof{
		PolicyHash:   e.PolicyHash,
		Proof:        e.Proof,
		PublicInputs: e.PublicInputs,
		Timestamp:    time.Unix(e.Timestamp, 0),
		Signature:    e.Signature,
	}
}

// handleOperation: POST /v1/operations/{supply|borrow|withdraw|repay}
func (s *Server) handleOperation(op domain.OperationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "malformed operation body")
			return
		}
		if req.Agent == "" || req.Market == "" {
			writeBadRequest(w, "agent and market are required")
			return
		}
		if req.OnBehalf == "" {
			req.OnBehalf = req.Agent
		}

		result, err := s.dispatcher.Execute(r.Context(), gate.Request{
			TraceID:   extractTraceID(r.Context()),
			Agent:     req.Agent,
			Operation: op,
			Market:    req.Market,
			Amount:    req.Amount,
			OnBehalf:  req.OnBehalf,
			Receiver:  req.Receiver,
			Proof:     req.Proof.toDomain(),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// handleGetAgent: GET /v1/agents/{agent}
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	cfg, ok := s.agents.Get(agent)
	if !ok {
		writeError(w, domain.ErrAgentNotAuthorized)
		return
	}
	// Ключ подписи наружу не отдаем целиком — он и так публичный, но
	// ответу он не нужен
	cfg.SigningKey = nil
	writeJSON(w, http.StatusOK, cfg)
}

// handleGetLimits: GET /v1/agents/{agent}/limits
func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	cfg, ok := s.agents.Get(agent)
	if !ok {
		writeError(w, domain.ErrAgentNotAuthorized)
		return
	}
	pol, ok := s.policies.Get(cfg.PolicyHash)
	if !ok {
		writeError(w, domain.ErrPolicyNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":         agent,
		"daily_limit":   pol.DailyLimit,
		"daily_spent":   s.limits.EffectiveSpent(cfg),
		"remaining":     s.limits.RemainingDaily(cfg, pol),
		"window_reset":  cfg.LastReset,
		"max_single_tx": pol.MaxSingleTx,
	})
}

// handleIsAuthorized: GET /v1/agents/{agent}/authorized?owner=0x...
func (s *Server) handleIsAuthorized(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeBadRequest(w, "owner query param is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authorized": s.agents.IsAuthorized(agent, owner)})
}

type verifyProofRequest struct {
	Agent     string        `json:"agent"`
	Operation string        `json:"operation"`
	Market    string        `json:"market"`
	Amount    uint64        `json:"amount"`
	Proof     proofEnvelope `json:"proof"`
}

// handleVerifyProof: POST /v1/proofs/verify — сухой прогон гейта.
// Доказательство НЕ потребляется, операция НЕ исполняется.
func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed verify body")
		return
	}

	_, intent, err := s.gate.Validate(r.Context(), req.Agent, req.Proof.toDomain(),
		domain.OperationType(req.Operation), req.Amount, req.Market)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"proof_id": req.Proof.toDomain().ID(),
		"nonce":    intent.Nonce,
	})
}
