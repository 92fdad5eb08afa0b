package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hshadab/morpho/internal/audit"
	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/gate"
	"github.com/hshadab/morpho/internal/ledger"
	"github.com/hshadab/morpho/internal/policy"
	"github.com/hshadab/morpho/internal/protocol"
	"github.com/hshadab/morpho/internal/registry"
	"github.com/hshadab/morpho/internal/verifier"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testOwner  = "0x1111111111111111111111111111111111111111"
	testAgent  = "0x00112233445566778899aabbccddeeff00112233"
	testMarket = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// staticValidator принимает единственный токен "Bearer good".
type staticValidator struct{ owner string }

func (v staticValidator) VerifyToken(token string) (*domain.OwnerClaims, error) {
	if token != "Bearer good" {
		return nil, errors.New("unknown token")
	}
	return &domain.OwnerClaims{Owner: v.owner}, nil
}

// serverRig — сервер на in-memory стеке плюс прямой доступ к хранилищам.
type serverRig struct {
	handler  http.Handler
	policies *policy.Store
	agents   *registry.Registry
	ledger   *ledger.Ledger
	mem      *protocol.Memory

	priv       ed25519.PrivateKey
	policyHash string
}

func testPolicy() domain.SpendingPolicy {
	return domain.SpendingPolicy{
		DailyLimit:            10_000,
		MaxSingleTx:           5_000,
		AllowedMarkets:        []string{testMarket},
		RequireProofForSupply: true,
		RequireProofForBorrow: true,
	}
}

func newServerRig(t *testing.T, withAuth bool) *serverRig {
	t.Helper()
	logger := zap.NewNop()

	policies := policy.NewStore(nil, audit.Nop{}, logger)
	agents := registry.New(policies, nil, nil, audit.Nop{}, logger)
	lg := ledger.New(nil, nil, logger)
	mem := protocol.NewMemory()

	hash, err := policies.Register(context.Background(), testPolicy())
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, agents.Authorize(context.Background(), testOwner, testAgent, hash, pub))

	pg := gate.NewProofGate(agents, lg, &verifier.Static{}, nil,
		5*time.Minute, 30*time.Second, gate.NewMetrics(nil), logger)
	limits := gate.NewLimitEnforcer(24 * time.Hour)
	disp := gate.NewDispatcher(pg, limits, policies, agents, lg,
		mem, nil, gate.NewMetrics(nil), audit.Nop{}, logger)

	var validator staticValidator
	var srv *Server
	if withAuth {
		validator = staticValidator{owner: testOwner}
		srv = New(validator, policies, agents, pg, limits, disp, logger)
	} else {
		srv = New(nil, policies, agents, pg, limits, disp, logger)
	}

	return &serverRig{
		handler:    srv.Handler(),
		policies:   policies,
		agents:     agents,
		ledger:     lg,
		mem:        mem,
		priv:       priv,
		policyHash: hash,
	}
}

func (r *serverRig) envelope(t *testing.T, op domain.OperationType, amount, nonce uint64) proofEnvelope {
	t.Helper()
	words, err := domain.EncodeIntent(domain.ProofIntent{
		Operation: op,
		Amount:    amount,
		Market:    testMarket,
		Agent:     testAgent,
		Nonce:     nonce,
	})
	require.NoError(t, err)

	proofBytes := make([]byte, 64)
	_, err = rand.Read(proofBytes)
	require.NoError(t, err)

	env := proofEnvelope{
		PolicyHash:   r.policyHash,
		Proof:        proofBytes,
		PublicInputs: words,
		Timestamp:    time.Now().Unix(),
	}
	env.Signature = ed25519.Sign(r.priv, domain.SignedDigest(env.toDomain().ID(), nonce))
	return env
}

func (r *serverRig) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r := newServerRig(t, false)
	rec := r.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPolicyLifecycle(t *testing.T) {
	r := newServerRig(t, false)

	p := testPolicy()
	p.DailyLimit = 777

	rec := r.do(t, http.MethodPost, "/v1/policies", p, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	hash, _ := decodeBody(t, rec)["policy_hash"].(string)
	require.NotEmpty(t, hash)

	rec = r.do(t, http.MethodGet, "/v1/policies/"+hash, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.SpendingPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.EqualValues(t, 777, got.DailyLimit)

	rec = r.do(t, http.MethodGet, "/v1/policies/0xmissing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "policy_not_found", decodeBody(t, rec)["error"])
}

func TestOwnerPerimeterRequiresToken(t *testing.T) {
	r := newServerRig(t, true)

	rec := r.do(t, http.MethodPost, "/v1/policies", testPolicy(), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = r.do(t, http.MethodPost, "/v1/policies", testPolicy(),
		map[string]string{"Authorization": "Bearer stolen"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = r.do(t, http.MethodPost, "/v1/policies", testPolicy(),
		map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Операционная поверхность агента токеном не закрывается:
	// учетные данные агента — само доказательство
	rec = r.do(t, http.MethodGet, "/v1/agents/"+testAgent, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOperationHappyPathAndReplay(t *testing.T) {
	r := newServerRig(t, false)
	env := r.envelope(t, domain.OpSupply, 3_000, 1)

	body := operationRequest{
		Agent:  testAgent,
		Market: testMarket,
		Amount: 3_000,
		Proof:  env,
	}
	rec := r.do(t, http.MethodPost, "/v1/operations/supply", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	require.Equal(t, env.toDomain().ID(), out["proof_id"])
	require.EqualValues(t, 3_000, r.mem.Supplied(testMarket, testAgent))

	// Повтор того же конверта: 403 + машиночитаемый код отказа
	rec = r.do(t, http.MethodPost, "/v1/operations/supply", body, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "invalid_proof", decodeBody(t, rec)["error"])
}

func TestOperationErrorMapping(t *testing.T) {
	r := newServerRig(t, false)

	// Превышение разового лимита → 403 с конкретным кодом
	env := r.envelope(t, domain.OpBorrow, 5_001, 1)
	body := operationRequest{Agent: testAgent, Market: testMarket, Amount: 5_001, Proof: env}
	rec := r.do(t, http.MethodPost, "/v1/operations/borrow", body, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "exceeds_single_tx_limit", decodeBody(t, rec)["error"])

	// Кривой JSON → 400
	req := httptest.NewRequest(http.MethodPost, "/v1/operations/supply", bytes.NewBufferString("{broken"))
	raw := httptest.NewRecorder()
	r.handler.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)

	// Неизвестный агент в read-only поверхности → 403
	rec = r.do(t, http.MethodGet, "/v1/agents/0xdeadbeef00000000000000000000000000000000/limits", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "agent_not_authorized", decodeBody(t, rec)["error"])
}

func TestGetLimitsReflectsSpending(t *testing.T) {
	r := newServerRig(t, false)

	env := r.envelope(t, domain.OpSupply, 4_000, 1)
	body := operationRequest{Agent: testAgent, Market: testMarket, Amount: 4_000, Proof: env}
	rec := r.do(t, http.MethodPost, "/v1/operations/supply", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = r.do(t, http.MethodGet, "/v1/agents/"+testAgent+"/limits", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody(t, rec)
	require.EqualValues(t, 10_000, out["daily_limit"])
	require.EqualValues(t, 4_000, out["daily_spent"])
	require.EqualValues(t, 6_000, out["remaining"])
}

func TestIsAuthorizedQuery(t *testing.T) {
	r := newServerRig(t, false)

	rec := r.do(t, http.MethodGet, "/v1/agents/"+testAgent+"/authorized?owner="+testOwner, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["authorized"])

	rec = r.do(t, http.MethodGet, "/v1/agents/"+testAgent+"/authorized", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyProofIsDryRun(t *testing.T) {
	r := newServerRig(t, false)
	env := r.envelope(t, domain.OpSupply, 2_000, 1)

	body := verifyProofRequest{
		Agent:     testAgent,
		Operation: string(domain.OpSupply),
		Market:    testMarket,
		Amount:    2_000,
		Proof:     env,
	}
	rec := r.do(t, http.MethodPost, "/v1/proofs/verify", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["valid"])

	// Сухой прогон ничего не потребляет: конверт остается пригодным
	require.False(t, r.ledger.IsConsumed(env.toDomain().ID()))

	op := operationRequest{Agent: testAgent, Market: testMarket, Amount: 2_000, Proof: env}
	rec = r.do(t, http.MethodPost, "/v1/operations/supply", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
