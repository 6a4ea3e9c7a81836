package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Simplici0/quickprint/internal/api"
	"github.com/Simplici0/quickprint/internal/cart"
	"github.com/Simplici0/quickprint/internal/checkout"
	"github.com/Simplici0/quickprint/internal/dashboard"
	"github.com/Simplici0/quickprint/internal/db"
	"github.com/Simplici0/quickprint/internal/migrations"
	"github.com/Simplici0/quickprint/internal/session"
)

// fakeQuickPrint stands in for the remote QuickPrint API.
type fakeQuickPrint struct {
	mu          sync.Mutex
	failOrders  bool
	placed      []json.RawMessage
	orders      []api.Order
	statusCalls []string
}

func (f *fakeQuickPrint) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/pricing/shop/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]float64{
			"bw_single_price": 1, "bw_duplex_price": 0.8, "color_single_price": 5, "color_duplex_price": 4,
		})
	})
	r.Put("/pricing/shop/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	r.Post("/upload/", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": "http://files/" + header.Filename, "page_count": 4})
	})
	r.Post("/orders/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failOrders {
			http.Error(w, "database unavailable", http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.placed = append(f.placed, body)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 7, "status": "PENDING", "total_amount": 40.0, "items": []any{}})
	})
	r.Get("/orders/shop/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.orders)
	})
	r.Patch("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.statusCalls = append(f.statusCalls, "order "+chi.URLParam(r, "id")+" "+body["status"])
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "status": body["status"], "total_amount": 40.0})
	})
	r.Patch("/orders/items/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.statusCalls = append(f.statusCalls, "item "+chi.URLParam(r, "id")+" "+body["status"])
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": 3, "status": body["status"]})
	})
	return r
}

func newTestServer(t *testing.T) (*server, *fakeQuickPrint) {
	t.Helper()

	fake := &fakeQuickPrint{}
	remote := httptest.NewServer(fake.handler())
	t.Cleanup(remote.Close)

	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "server-test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := migrations.Up(database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	client, err := api.New(remote.URL, 5*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("api client: %v", err)
	}

	logger := zap.NewNop()
	srv := &server{
		checkout: checkout.NewService(session.NewStore(database, time.Hour), client, 1, 2, logger),
		cookies:  newSessionCookies("test-secret", time.Hour, false),
		shop:     client,
		orders:   dashboard.NewPoller(client, 2, time.Hour, logger),
		shopID:   2,
		logger:   logger,
		now:      time.Now,
	}
	return srv, fake
}

type testClient struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func (c *testClient) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	c.t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			c.cookie = cookie
		}
	}
	return rec
}

func (c *testClient) json(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(method, path, "application/json", strings.NewReader(body))
}

func (c *testClient) upload(fileName, content string) *httptest.ResponseRecorder {
	c.t.Helper()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		c.t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	if err := form.Close(); err != nil {
		c.t.Fatalf("close form: %v", err)
	}
	return c.do(http.MethodPost, "/api/staging/upload", form.FormDataContentType(), &buf)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status=%d, want %d, body=%s", rec.Code, want, rec.Body.String())
	}
}

func openSession(t *testing.T, srv *server) *testClient {
	t.Helper()

	c := &testClient{t: t, handler: srv.routes()}
	rec := c.do(http.MethodGet, "/api/session", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if c.cookie == nil {
		t.Fatalf("expected a session cookie")
	}
	return c
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	srv, fake := newTestServer(t)
	c := openSession(t, srv)

	rec := c.upload("thesis.pdf", "%PDF-1.4")
	expectStatus(t, rec, http.StatusOK)
	summary := decodeBody[checkout.Summary](t, rec)
	if summary.Staging.State != cart.StageReady || summary.Staging.PageCount != 4 {
		t.Fatalf("unexpected staging after upload: %+v", summary.Staging)
	}

	rec = c.json(http.MethodPatch, "/api/staging/config", `{"copies": 2, "is_color": true, "orientation": "landscape"}`)
	expectStatus(t, rec, http.StatusOK)
	summary = decodeBody[checkout.Summary](t, rec)
	if summary.PreviewPrice != "40.00" {
		t.Fatalf("preview=%s, want 40.00", summary.PreviewPrice)
	}

	rec = c.do(http.MethodPost, "/api/cart/items", "", nil)
	expectStatus(t, rec, http.StatusCreated)
	committed := decodeBody[commitResponse](t, rec)
	if committed.Price != "40.00" || committed.Session.ItemCount != 1 || committed.Session.Staging.State != cart.StageEmpty {
		t.Fatalf("unexpected commit response: %+v", committed)
	}

	rec = c.do(http.MethodPost, "/api/cart/checkout", "", nil)
	expectStatus(t, rec, http.StatusCreated)
	placed := decodeBody[orderResponse](t, rec)
	if placed.Order.ID != 7 || placed.Total != "40.00" || placed.Session.ItemCount != 0 {
		t.Fatalf("unexpected checkout response: %+v", placed)
	}

	if len(fake.placed) != 1 {
		t.Fatalf("expected one order at the API, got %d", len(fake.placed))
	}
	payload := string(fake.placed[0])
	for _, want := range []string{`"user_id":1`, `"shop_id":2`, `"file_name":"thesis.pdf"`, `"orientation":"LANDSCAPE"`} {
		if !strings.Contains(payload, want) {
			t.Fatalf("payload %s does not contain %s", payload, want)
		}
	}
	if strings.Contains(payload, "price") {
		t.Fatalf("payload %s must not carry a client price", payload)
	}
}

func TestSessionResumesWithCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	c := openSession(t, srv)
	first := c.cookie.Value

	c.upload("a.pdf", "x")
	c.do(http.MethodPost, "/api/cart/items", "", nil)

	rec := c.do(http.MethodGet, "/api/session", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if c.cookie.Value != first {
		t.Fatalf("session cookie changed on resume")
	}
	if summary := decodeBody[checkout.Summary](t, rec); summary.ItemCount != 1 {
		t.Fatalf("expected resumed cart with 1 item, got %d", summary.ItemCount)
	}
}

func TestSessionRoutesRequireValidCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	c := &testClient{t: t, handler: srv.routes()}

	rec := c.do(http.MethodPost, "/api/cart/checkout", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)

	c.cookie = &http.Cookie{Name: sessionCookieName, Value: newSessionCookies("other-secret", time.Hour, false).sign("forged")}
	rec = c.do(http.MethodPost, "/api/cart/checkout", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	srv, _ := newTestServer(t)
	c := openSession(t, srv)

	rec := c.upload("notes.txt", "hello")
	expectStatus(t, rec, http.StatusUnsupportedMediaType)
}

func TestCommitWithoutReadyFileConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	c := openSession(t, srv)

	rec := c.do(http.MethodPost, "/api/cart/items", "", nil)
	expectStatus(t, rec, http.StatusConflict)
}

func TestCheckoutEmptyCart(t *testing.T) {
	srv, fake := newTestServer(t)
	c := openSession(t, srv)

	rec := c.do(http.MethodPost, "/api/cart/checkout", "", nil)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if len(fake.placed) != 0 {
		t.Fatalf("empty cart must not reach the API")
	}
}

func TestCheckoutFailureKeepsCart(t *testing.T) {
	srv, fake := newTestServer(t)
	c := openSession(t, srv)
	c.upload("a.pdf", "x")
	c.do(http.MethodPost, "/api/cart/items", "", nil)

	fake.mu.Lock()
	fake.failOrders = true
	fake.mu.Unlock()

	rec := c.do(http.MethodPost, "/api/cart/checkout", "", nil)
	expectStatus(t, rec, http.StatusBadGateway)
	resp := decodeBody[errorResponse](t, rec)
	if resp.Error != submissionFailedMessage || resp.Session == nil || resp.Session.ItemCount != 1 {
		t.Fatalf("unexpected failure response: %+v", resp)
	}
}

func TestStageConfigValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	c := openSession(t, srv)
	c.upload("a.pdf", "x")

	tests := []struct {
		body string
		want int
	}{
		{`{"copies": "many"}`, http.StatusBadRequest},
		{`{"copies": 1, "orientation": "diagonal"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
		{`{"copies": 0}`, http.StatusOK},
	}

	for _, tt := range tests {
		rec := c.json(http.MethodPatch, "/api/staging/config", tt.body)
		expectStatus(t, rec, tt.want)
		if tt.want == http.StatusOK {
			if summary := decodeBody[checkout.Summary](t, rec); summary.Staging.Config.Copies != 1 {
				t.Fatalf("copies=%d, want clamped to 1", summary.Staging.Config.Copies)
			}
		}
	}
}

func TestRemoveCartItem(t *testing.T) {
	srv, _ := newTestServer(t)
	c := openSession(t, srv)
	c.upload("a.pdf", "x")
	committed := decodeBody[commitResponse](t, c.do(http.MethodPost, "/api/cart/items", "", nil))

	rec := c.do(http.MethodDelete, "/api/cart/items/abc", "", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = c.do(http.MethodDelete, "/api/cart/items/"+strconv.FormatInt(committed.Item.ID, 10), "", nil)
	expectStatus(t, rec, http.StatusOK)
	if summary := decodeBody[checkout.Summary](t, rec); summary.ItemCount != 0 {
		t.Fatalf("expected empty cart, got %d items", summary.ItemCount)
	}
}

func TestShopPricing(t *testing.T) {
	srv, _ := newTestServer(t)
	c := &testClient{t: t, handler: srv.routes()}

	rec := c.do(http.MethodGet, "/api/shop/pricing", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]float64](t, rec); got["color_single_price"] != 5 {
		t.Fatalf("unexpected pricing: %v", got)
	}

	rec = c.json(http.MethodPut, "/api/shop/pricing", `{"bw_single_price": -1, "bw_duplex_price": 1, "color_single_price": 1, "color_duplex_price": 1}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = c.json(http.MethodPut, "/api/shop/pricing", `{"bw_single_price": 0.5, "bw_duplex_price": 0.4}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = c.json(http.MethodPut, "/api/shop/pricing", `{"bw_single_price": 0.5, "bw_duplex_price": 0.4, "color_single_price": 3, "color_duplex_price": 2.5}`)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]float64](t, rec); got["bw_single_price"] != 0.5 || got["color_duplex_price"] != 2.5 {
		t.Fatalf("unexpected stored pricing: %v", got)
	}
}

func TestShopOrdersDashboard(t *testing.T) {
	srv, fake := newTestServer(t)
	now := time.Now().UTC()
	fake.orders = []api.Order{
		{ID: 1, Status: api.OrderPending, CreatedAt: api.Timestamp{Time: now.Add(-time.Hour)},
			Items: []api.OrderItem{{FileName: "thesis.pdf", PageCount: 4, Copies: 1}}},
		{ID: 2, Status: api.OrderCompleted, CreatedAt: api.Timestamp{Time: now.Add(-2 * time.Hour)}},
	}
	c := &testClient{t: t, handler: srv.routes()}

	rec := c.do(http.MethodPost, "/api/shop/orders/refresh", "", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = c.do(http.MethodGet, "/api/shop/orders?status=pending&q=thesis", "", nil)
	expectStatus(t, rec, http.StatusOK)
	view := decodeBody[dashboard.View](t, rec)
	if len(view.Orders) != 1 || view.Orders[0].ID != 1 {
		t.Fatalf("unexpected filtered orders: %+v", view.Orders)
	}
	if view.PendingCount != 1 || view.CompletedCount != 1 || view.TotalCount != 2 {
		t.Fatalf("unexpected counters: %+v", view)
	}

	rec = c.do(http.MethodGet, "/api/shop/orders?sort=sideways", "", nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestStatusUpdates(t *testing.T) {
	srv, fake := newTestServer(t)
	c := &testClient{t: t, handler: srv.routes()}

	rec := c.json(http.MethodPatch, "/api/shop/orders/7/status", `{"status": "shipped"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = c.json(http.MethodPatch, "/api/shop/orders/7/status", `{"status": "processing"}`)
	expectStatus(t, rec, http.StatusOK)

	rec = c.json(http.MethodPatch, "/api/shop/orders/items/3/status", `{"status": "PRINTED"}`)
	expectStatus(t, rec, http.StatusOK)

	rec = c.json(http.MethodPatch, "/api/shop/orders/items/0/status", `{"status": "PRINTED"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	want := []string{"order 7 PROCESSING", "item 3 PRINTED"}
	if strings.Join(fake.statusCalls, ",") != strings.Join(want, ",") {
		t.Fatalf("statusCalls=%v, want %v", fake.statusCalls, want)
	}
}
