// Package payment talks to the Paystack REST API for charge
// initialization and verification.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
)

// Client is a thin Paystack transaction client. Amounts are passed in
// the currency's minor unit, which matches Paystack's API.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	logger    *zap.Logger
}

func NewClient(baseURL, secretKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

type initializeRequest struct {
	Email  string `json:"email"`
	Amount int64  `json:"amount"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// InitiatePayment registers a pending charge with Paystack and returns
// the reference and checkout URL the caller should hand to the user.
func (c *Client) InitiatePayment(ctx context.Context, amountCents int64, email string) (*domain.PaymentIntent, error) {
	body, err := json.Marshal(initializeRequest{Email: email, Amount: amountCents})
	if err != nil {
		return nil, fmt.Errorf("marshal initialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build initialize request: %w", err)
	}
	c.prepare(req)

	var out initializeResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentInit, err)
	}
	if !out.Status {
		c.logger.Warn("paystack rejected initialization", zap.String("message", out.Message))
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentInit, out.Message)
	}

	return &domain.PaymentIntent{
		Reference:        out.Data.Reference,
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
	}, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status string `json:"status"`
	} `json:"data"`
}

// VerifyPayment asks Paystack for the terminal state of a charge.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (*domain.PaymentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	c.prepare(req)

	var out verifyResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("verify payment %s: %w", reference, err)
	}
	if !out.Status {
		return nil, fmt.Errorf("verify payment %s: %s", reference, out.Message)
	}

	return &domain.PaymentStatus{
		Success:   out.Data.Status == "success",
		RawStatus: out.Data.Status,
	}, nil
}

func (c *Client) prepare(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
