package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/infra"
	"github.com/stretchr/testify/require"
)

func TestHTTPOracleVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)

		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []byte("proof-bytes"), req.Proof)
		require.Len(t, req.PublicInputs, 1)

		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: true})
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	valid, err := o.Verify(context.Background(), []byte("proof-bytes"),
		[]domain.Word{domain.WordFromUint64(1)}, "0xhash")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestHTTPOracleRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: false})
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	valid, err := o.Verify(context.Background(), nil, nil, "0xhash")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestHTTPOracleThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	_, err := o.Verify(context.Background(), nil, nil, "0xhash")

	var tErr *infra.ThrottleError
	require.True(t, errors.As(err, &tErr))
	require.Equal(t, 7*time.Second, tErr.RetryAfter)
}

func TestHTTPOracleServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	_, err := o.Verify(context.Background(), nil, nil, "0xhash")
	require.Error(t, err)
}
