package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
)

func TestInitiatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		require.Equal(t, "Bearer sk_test_abc", r.Header.Get("Authorization"))

		var req initializeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "buyer@example.com", req.Email)
		require.EqualValues(t, 19999, req.Amount)

		json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]any{
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code":       "abc123",
				"reference":         "ref-001",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_abc", zap.NewNop())

	intent, err := c.InitiatePayment(context.Background(), 19999, "buyer@example.com")
	require.NoError(t, err)
	require.Equal(t, "ref-001", intent.Reference)
	require.Equal(t, "https://checkout.paystack.com/abc123", intent.AuthorizationURL)
	require.Equal(t, "abc123", intent.AccessCode)
}

func TestInitiatePaymentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Invalid key"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_bad", zap.NewNop())

	_, err := c.InitiatePayment(context.Background(), 100, "buyer@example.com")
	require.ErrorIs(t, err, domain.ErrPaymentInit)
}

func TestInitiatePaymentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_abc", zap.NewNop())

	_, err := c.InitiatePayment(context.Background(), 100, "buyer@example.com")
	require.ErrorIs(t, err, domain.ErrPaymentInit)
}

func TestVerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/transaction/verify/ref-001", r.URL.Path)

		json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Verification successful",
			"data":    map[string]any{"status": "success"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_abc", zap.NewNop())

	st, err := c.VerifyPayment(context.Background(), "ref-001")
	require.NoError(t, err)
	require.True(t, st.Success)
	require.Equal(t, "success", st.RawStatus)
}

func TestVerifyPaymentFailedCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"status": "failed"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test_abc", zap.NewNop())

	st, err := c.VerifyPayment(context.Background(), "ref-002")
	require.NoError(t, err)
	require.False(t, st.Success)
	require.Equal(t, "failed", st.RawStatus)
}
