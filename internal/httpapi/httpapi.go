// Package httpapi exposes the cart, order and webhook surface over
// HTTP. Callers are identified by the X-User-ID header; the webhook is
// authenticated by its HMAC signature instead.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
	"github.com/emmanuel-dcoder/shopping-api/internal/observability"
	"github.com/emmanuel-dcoder/shopping-api/internal/order"
)

const signatureHeader = "x-paystack-signature"

type CartService interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID string, qty int64) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, productID string, qty int64) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) (*domain.Cart, error)
}

type OrderService interface {
	Checkout(ctx context.Context, userID string) (*order.CheckoutResult, error)
	GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error)
	ListUserOrders(ctx context.Context, userID string, status domain.OrderStatus, page, limit int) (*domain.OrderPage, error)
}

type Catalog interface {
	Product(ctx context.Context, productID string) (*domain.Product, error)
}

type Webhook interface {
	VerifySignature(payload []byte, signature string) error
	ApplyEvent(ctx context.Context, ev order.WebhookEvent) (*domain.Order, error)
}

type Server struct {
	carts   CartService
	orders  OrderService
	catalog Catalog
	webhook Webhook
	router  chi.Router
	logger  *zap.Logger
	metrics observability.Metrics
}

func New(carts CartService, orders OrderService, catalog Catalog, webhook Webhook, metricsHandler http.Handler, logger *zap.Logger, metrics observability.Metrics) *Server {
	s := &Server{
		carts:   carts,
		orders:  orders,
		catalog: catalog,
		webhook: webhook,
		router:  chi.NewRouter(),
		logger:  logger,
		metrics: metrics,
	}
	s.routes(metricsHandler)
	return s
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(RequestMetrics(s.metrics))

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	s.router.Get("/products/{productID}", s.getProduct)

	s.router.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/cart", s.getCart)
		r.Delete("/cart", s.clearCart)
		r.Post("/cart/items", s.addCartItem)
		r.Patch("/cart/items/{productID}", s.updateCartItem)
		r.Delete("/cart/items/{productID}", s.removeCartItem)

		r.Post("/orders", s.checkout)
		r.Get("/orders", s.listOrders)
		r.Get("/orders/{orderID}", s.getOrder)
	})

	s.router.Post("/payments/webhook", s.paymentWebhook)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.Product(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.GetOrCreate(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.Clear(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ProductID == "" {
		s.writeError(w, errors.Join(domain.ErrInvalidInput, errors.New("product_id is required")))
		return
	}

	c, err := s.carts.AddItem(r.Context(), userID(r), req.ProductID, req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	c, err := s.carts.UpdateItemQuantity(r.Context(), userID(r), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.RemoveItem(r.Context(), userID(r), chi.URLParam(r, "productID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	res, err := s.orders.Checkout(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.GetOrder(r.Context(), userID(r), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	status := domain.OrderStatus(q.Get("status"))

	switch status {
	case "", domain.OrderPending, domain.OrderCompleted, domain.OrderCancelled:
	default:
		s.writeError(w, errors.Join(domain.ErrInvalidInput, errors.New("unknown status")))
		return
	}

	result, err := s.orders.ListUserOrders(r.Context(), userID(r), status, page, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// paymentWebhook always acknowledges with 200 unless the server itself
// failed, so the gateway does not retry deliveries we have already
// rejected or applied.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.webhook.VerifySignature(payload, r.Header.Get(signatureHeader)); err != nil {
		s.logger.Warn("webhook signature rejected", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var ev order.WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.logger.Warn("webhook payload unreadable", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if _, err := s.webhook.ApplyEvent(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownOrder), errors.Is(err, domain.ErrNotPending):
			// Replays and references we never issued are acknowledged.
			s.logger.Info("webhook ignored", zap.String("reference", ev.Data.Reference), zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		default:
			s.writeError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrProductNotInCart),
		errors.Is(err, domain.ErrUnknownOrder):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidUser),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrPaymentInit):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConflictExhausted),
		errors.Is(err, domain.ErrCartConflict),
		errors.Is(err, domain.ErrNotPending):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dest any) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return errors.Join(domain.ErrInvalidInput, errors.New("Content-Type must be application/json"))
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errors.Join(domain.ErrInvalidInput, errors.New("bad json"))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	return srv.ListenAndServe()
}
