package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/service"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{ShopName: "test-shop"})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON sends an authenticated request with a fresh CSRF token and returns
// the recorder.
func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	return resp.AccessToken
}

func createItemOverHTTP(t *testing.T, api *API, token string, name string, stock int) domain.Item {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/items", token, map[string]any{
		"name":          name,
		"category":      "Passenger",
		"purchasePrice": "100",
		"retailPrice":   "150",
		"lowerLimit":    2,
		"initialStock":  stock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Item domain.Item `json:"item"`
	}
	decodeBody(t, rec, &body)
	return body.Item
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["accessToken"] == "" || body["accessToken"] == nil {
		t.Fatalf("expected accessToken in response, got %v", body)
	}
	if body["role"] != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %v", body["role"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleItems_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/items", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleItems_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/items", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if _, ok := body["items"]; !ok {
		t.Fatalf("expected items key in response, got %v", body)
	}
}

func TestCashierCannotCreateItems(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/items", token, map[string]any{
		"name":        "Tyre",
		"category":    "Passenger",
		"retailPrice": "150",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestUsersEndpointIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager", "manager123")
	admin := loginAs(t, api, "admin", "admin123")

	if rec := doJSON(t, api, http.MethodGet, "/api/users", manager, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("manager listing users: expected 403, got %d", rec.Code)
	}

	rec := doJSON(t, api, http.MethodPost, "/api/users", admin, domain.UserCreateRequest{Username: "till9", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/users", admin, domain.UserCreateRequest{Username: "till9", Password: "pass1234"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate user: expected 409, got %d", rec.Code)
	}
}

func TestItemStockAndSaleFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	cashier := loginAs(t, api, "cashier", "cashier123")

	item := createItemOverHTTP(t, api, admin, "Road Grip 195/65R15", 4)
	if item.ItemCode != "RT0001" {
		t.Fatalf("expected item code RT0001, got %s", item.ItemCode)
	}

	rec := doJSON(t, api, http.MethodPatch, "/api/items/code/"+item.ItemCode+"/stock", admin, map[string]any{
		"quantity": 6,
		"supplier": "Wholesale Tyres",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stock update: %d %s", rec.Code, rec.Body.String())
	}
	var adjustment domain.StockAdjustment
	decodeBody(t, rec, &adjustment)
	if adjustment.Item.QuantityInStock != 10 {
		t.Fatalf("expected stock 10, got %d", adjustment.Item.QuantityInStock)
	}
	if adjustment.Purchase == nil {
		t.Fatalf("expected a stock purchase record")
	}

	rec = doJSON(t, api, http.MethodPost, "/api/sales", cashier, map[string]any{
		"items":         []map[string]any{{"item": item.ID, "quantity": 3, "price": "150", "total": "450"}},
		"subtotal":      "450",
		"total":         "450",
		"paymentMethod": domain.PaymentCash,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.BillNumber == "" {
		t.Fatalf("expected bill number")
	}
	if created.Sale.Cashier != "cashier" {
		t.Fatalf("expected cashier username, got %s", created.Sale.Cashier)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/items/code/"+item.ItemCode, cashier, nil)
	var fetched struct {
		Item domain.Item `json:"item"`
	}
	decodeBody(t, rec, &fetched)
	if fetched.Item.QuantityInStock != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", fetched.Item.QuantityInStock)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/sales", cashier, map[string]any{
		"items":         []map[string]any{{"item": item.ID, "quantity": 8, "price": "150", "total": "1200"}},
		"subtotal":      "1200",
		"total":         "1200",
		"paymentMethod": domain.PaymentCash,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversell: expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteSaleRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	item := createItemOverHTTP(t, api, admin, "Trail 4x4", 5)

	rec := doJSON(t, api, http.MethodPost, "/api/sales", admin, map[string]any{
		"items":         []map[string]any{{"item": item.ID, "quantity": 2, "price": "150", "total": "300"}},
		"subtotal":      "300",
		"total":         "300",
		"paymentMethod": domain.PaymentCard,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)

	del := func(pin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/api/sales/"+created.Sale.ID, nil)
		req.Header.Set("Authorization", "Bearer "+admin)
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
		req.Header.Set("X-Manager-PIN", pin)
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res
	}

	if res := del("000000"); res.Code != http.StatusForbidden {
		t.Fatalf("wrong pin: expected 403, got %d", res.Code)
	}
	if res := del("123456"); res.Code != http.StatusOK {
		t.Fatalf("delete sale: %d %s", res.Code, res.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/items/"+item.ID, admin, nil)
	var fetched struct {
		Item domain.Item `json:"item"`
	}
	decodeBody(t, rec, &fetched)
	if fetched.Item.QuantityInStock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", fetched.Item.QuantityInStock)
	}

	if res := del("123456"); res.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", res.Code)
	}
}

func TestSendNowWithoutSchedulerIsUnavailable(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager", "manager123")

	rec := doJSON(t, api, http.MethodPost, "/api/email-subscriptions/send-now", manager, domain.SendNowRequest{Emails: []string{"owner@example.com"}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRunDueRoute(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager", "manager123")

	rec := doJSON(t, api, http.MethodPost, "/api/email-subscriptions/run-due", manager, domain.RunDueRequest{Time: "08:00"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without scheduler, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, api, http.MethodGet, "/api/email-subscriptions/run-due", manager, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestAnalyticsUnknownKindIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager", "manager123")

	if rec := doJSON(t, api, http.MethodGet, "/api/analytics/horoscope", manager, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodGet, "/api/analytics/top-items?period=week", manager, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDailyReportHTML(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager", "manager123")

	rec := doJSON(t, api, http.MethodGet, "/api/reports/daily?format=html", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("test-shop")) {
		t.Fatalf("expected shop name in report page")
	}
}

func TestItemTemplateDownload(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager", "manager123")

	rec := doJSON(t, api, http.MethodGet, "/api/items/template?type=stock", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="stock-import-template.xlsx"` {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected workbook bytes")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", store.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: RT0001", store.ErrInsufficientStock), http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: nic", store.ErrDuplicate), http.StatusConflict},
		{fmt.Errorf("%w: admin only", service.ErrForbidden), http.StatusForbidden},
		{service.ErrSchedulerDisabled, http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
