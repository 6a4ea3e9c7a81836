package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Simplici0/quickprint/internal/cart"
	"github.com/Simplici0/quickprint/internal/pricing"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrNotFound         = errors.New("resource not found")
)

const maxErrorBody = 4 << 10

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus || (target == ErrNotFound && e.Code == http.StatusNotFound)
}

// Client talks to the remote QuickPrint API: pricing, uploads and orders.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// GetPricing fetches a shop's pricing table.
func (c *Client) GetPricing(ctx context.Context, shopID int64) (pricing.Table, error) {
	var table pricing.Table
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/pricing/shop/%d", shopID), nil, &table); err != nil {
		return pricing.Table{}, err
	}
	return table, nil
}

// PutPricing replaces a shop's pricing table and returns what the service stored.
func (c *Client) PutPricing(ctx context.Context, shopID int64, table pricing.Table) (pricing.Table, error) {
	var stored pricing.Table
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/pricing/shop/%d", shopID), table, &stored); err != nil {
		return pricing.Table{}, err
	}
	return stored, nil
}

// Upload streams a file to the upload service as multipart form field "file".
func (c *Client) Upload(ctx context.Context, fileName string, content io.Reader) (UploadResult, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", fileName)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	var result UploadResult
	if err := c.do(ctx, http.MethodPost, "/upload/", pr, form.FormDataContentType(), &result); err != nil {
		// Unblock the writer if the request ended before reading the body.
		pr.CloseWithError(err)
		return UploadResult{}, err
	}
	if result.URL == "" {
		return UploadResult{}, fmt.Errorf("upload %s: response has no url", fileName)
	}
	return result, nil
}

// CreateOrder submits an order. The returned order carries the service-computed total.
func (c *Client) CreateOrder(ctx context.Context, req cart.OrderRequest) (Order, error) {
	var order Order
	if err := c.doJSON(ctx, http.MethodPost, "/orders/", req, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// ListShopOrders returns every order placed with a shop.
func (c *Client) ListShopOrders(ctx context.Context, shopID int64) ([]Order, error) {
	var orders []Order
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/orders/shop/%d", shopID), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrderStatus moves an order to status.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus) (Order, error) {
	var order Order
	body := map[string]OrderStatus{"status": status}
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/orders/%d/status", orderID), body, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// UpdateItemStatus marks a single order item.
func (c *Client) UpdateItemStatus(ctx context.Context, itemID int64, status ItemStatus) (OrderItem, error) {
	var item OrderItem
	body := map[string]ItemStatus{"status": status}
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/orders/items/%d/status", itemID), body, &item); err != nil {
		return OrderItem{}, err
	}
	return item, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encode request: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("api request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
