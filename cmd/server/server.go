package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Simplici0/quickprint/internal/api"
	"github.com/Simplici0/quickprint/internal/cart"
	"github.com/Simplici0/quickprint/internal/checkout"
	"github.com/Simplici0/quickprint/internal/dashboard"
	"github.com/Simplici0/quickprint/internal/logging"
	"github.com/Simplici0/quickprint/internal/pricing"
	"github.com/Simplici0/quickprint/internal/session"
)

const (
	maxUploadBytes = 50 << 20
	maxJSONBytes   = 64 << 10

	submissionFailedMessage = "Failed to place order. Please try again."
)

// shopAPI is the part of the QuickPrint API the shop dashboard drives directly.
type shopAPI interface {
	GetPricing(ctx context.Context, shopID int64) (pricing.Table, error)
	PutPricing(ctx context.Context, shopID int64, table pricing.Table) (pricing.Table, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status api.OrderStatus) (api.Order, error)
	UpdateItemStatus(ctx context.Context, itemID int64, status api.ItemStatus) (api.OrderItem, error)
}

type server struct {
	checkout *checkout.Service
	cookies  *sessionCookies
	shop     shopAPI
	orders   *dashboard.Poller
	shopID   int64
	logger   *zap.Logger
	now      func() time.Time
}

type errorResponse struct {
	Error   string            `json:"error"`
	Session *checkout.Summary `json:"session,omitempty"`
}

type commitResponse struct {
	Item    cart.Item        `json:"item"`
	Price   string           `json:"price"`
	Session checkout.Summary `json:"session"`
}

type orderResponse struct {
	Order   api.Order        `json:"order"`
	Total   string           `json:"total"`
	Session checkout.Summary `json:"session"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.Requests(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)

		r.Group(func(r chi.Router) {
			r.Use(s.cookies.requireSession)
			r.Post("/pricing/reload", s.handlePricingReload)
			r.Post("/staging/upload", s.handleStageUpload)
			r.Patch("/staging/config", s.handleStageConfig)
			r.Delete("/staging", s.handleStageClear)
			r.Post("/cart/items", s.handleCartCommit)
			r.Delete("/cart/items/{id}", s.handleCartRemove)
			r.Post("/cart/checkout", s.handleCheckout)
		})

		r.Route("/shop", func(r chi.Router) {
			r.Get("/pricing", s.handleShopPricingGet)
			r.Put("/pricing", s.handleShopPricingPut)
			r.Get("/orders", s.handleShopOrders)
			r.Post("/orders/refresh", s.handleShopOrdersRefresh)
			r.Patch("/orders/{id}/status", s.handleOrderStatus)
			r.Patch("/orders/items/{id}/status", s.handleItemStatus)
		})
	})
	return r
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := s.cookies.read(r)
	st, err := s.checkout.Open(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st.ID != id {
		s.cookies.set(w, st.ID)
	}
	writeJSON(w, http.StatusOK, checkout.Summarize(st))
}

func (s *server) handlePricingReload(w http.ResponseWriter, r *http.Request) {
	st, err := s.checkout.LoadPricing(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout.Summarize(st))
}

func (s *server) handleStageUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "a PDF file is required in the file field"})
		return
	}
	defer file.Close()

	if !isPDF(header.Filename, header.Header.Get("Content-Type")) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: "only PDF files are accepted"})
		return
	}

	st, err := s.checkout.StageUpload(r.Context(), sessionID(r), filepath.Base(header.Filename), file)
	if err != nil {
		s.writeError(w, r, err, st)
		return
	}
	writeJSON(w, http.StatusOK, checkout.Summarize(st))
}

func (s *server) handleStageConfig(w http.ResponseWriter, r *http.Request) {
	var req jobConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	cfg, err := parseJobConfig(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	st, err := s.checkout.Configure(r.Context(), sessionID(r), cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout.Summarize(st))
}

func (s *server) handleStageClear(w http.ResponseWriter, r *http.Request) {
	st, err := s.checkout.ClearStaging(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout.Summarize(st))
}

func (s *server) handleCartCommit(w http.ResponseWriter, r *http.Request) {
	st, item, err := s.checkout.CommitStaged(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitResponse{
		Item:    item,
		Price:   pricing.Display(item.Price),
		Session: checkout.Summarize(st),
	})
}

func (s *server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	itemID, err := parsePositiveInt(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	st, err := s.checkout.RemoveItem(r.Context(), sessionID(r), itemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout.Summarize(st))
}

func (s *server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	st, order, err := s.checkout.Submit(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err, st)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		Order:   order,
		Total:   pricing.Display(order.TotalAmount),
		Session: checkout.Summarize(st),
	})
}

func (s *server) handleShopPricingGet(w http.ResponseWriter, r *http.Request) {
	table, err := s.shop.GetPricing(r.Context(), s.shopID)
	if errors.Is(err, api.ErrNotFound) {
		table, err = pricing.Default(), nil
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *server) handleShopPricingPut(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	table, err := parsePricing(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	stored, err := s.shop.PutPricing(r.Context(), s.shopID, table)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("shop pricing updated", zap.Int64("shop_id", s.shopID))
	writeJSON(w, http.StatusOK, stored)
}

func (s *server) handleShopOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q, err := dashboard.ParseQuery(query.Get("status"), query.Get("q"), query.Get("sort"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dashboard.BuildView(s.orders.Snapshot(), q, s.now()))
}

func (s *server) handleShopOrdersRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.orders.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard.BuildView(s.orders.Snapshot(), dashboard.Query{Status: dashboard.StatusAll}, s.now()))
}

func (s *server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := parsePositiveInt(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	status, err := parseOrderStatus(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	order, err := s.shop.UpdateOrderStatus(r.Context(), orderID, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.refreshOrders(r.Context())
	writeJSON(w, http.StatusOK, order)
}

func (s *server) handleItemStatus(w http.ResponseWriter, r *http.Request) {
	itemID, err := parsePositiveInt(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	status, err := parseItemStatus(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	item, err := s.shop.UpdateItemStatus(r.Context(), itemID, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.refreshOrders(r.Context())
	writeJSON(w, http.StatusOK, item)
}

// refreshOrders updates the dashboard after a status change. A failed refresh
// only means the next poll shows the change.
func (s *server) refreshOrders(ctx context.Context) {
	if err := s.orders.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after status change", zap.Error(err))
	}
}

// writeError maps domain errors to HTTP statuses. When the session state is
// known it is returned alongside the message.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error, st ...session.State) {
	status, message := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, cart.ErrUploadInFlight),
		errors.Is(err, cart.ErrNotReady),
		errors.Is(err, cart.ErrNothingStaged),
		errors.Is(err, cart.ErrStaleUpload):
		status, message = http.StatusConflict, rootMessage(err)
	case errors.Is(err, cart.ErrEmptyCart):
		status, message = http.StatusUnprocessableEntity, rootMessage(err)
	case errors.Is(err, session.ErrNotFound):
		s.cookies.clear(w)
		status, message = http.StatusUnauthorized, "session expired, open a new one"
	case errors.Is(err, checkout.ErrUploadFailed):
		status, message = http.StatusBadGateway, checkout.UploadFailedMessage
	case errors.Is(err, checkout.ErrSubmissionFailed):
		status, message = http.StatusBadGateway, submissionFailedMessage
	case errors.Is(err, api.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, api.ErrUnexpectedStatus):
		status, message = http.StatusBadGateway, "QuickPrint API request failed"
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "QuickPrint API timed out"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}

	resp := errorResponse{Error: message}
	if len(st) > 0 && st[0].ID != "" {
		summary := checkout.Summarize(st[0])
		resp.Session = &summary
	}
	writeJSON(w, status, resp)
}

// rootMessage is the message of the innermost wrapped error.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func isPDF(fileName, contentType string) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(fileName), ".pdf")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
