package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/service"
	"nirmaan/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, nil, 0, "*")
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "customer-1", "customer123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestCartCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "customer-1", "customer123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/cart/items", token, map[string]any{
		"product_id": "prd-opc53-bag",
		"quantity":   "20",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, map[string]any{
		"payment_method":     "cash-on-delivery",
		"advance_percentage": "25",
		"delivery_address": map[string]string{
			"line1":   "14 MG Road",
			"city":    "Bengaluru",
			"state":   "KA",
			"pincode": "560001",
			"phone":   "9000000001",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if len(resp.Orders) != 1 || len(resp.Failures) != 0 {
		t.Fatalf("expected 1 order and no failures, got %d/%d", len(resp.Orders), len(resp.Failures))
	}
	if resp.Orders[0].Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", resp.Orders[0].Status)
	}

	// The cart must be cleared once every supplier group went through.
	rec = doJSON(t, api, http.MethodGet, "/api/v1/cart", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get cart failed: %d", rec.Code)
	}
	var cartBody struct {
		Cart domain.Cart `json:"cart"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&cartBody); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(cartBody.Cart.Items) != 0 {
		t.Fatalf("expected empty cart after checkout, got %d items", len(cartBody.Cart.Items))
	}

	// The checkout group endpoint shows the same order to its customer.
	rec = doJSON(t, api, http.MethodGet, "/api/v1/orders/group/"+resp.CheckoutGroupID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("group lookup failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestOrderTransitionForbiddenForCustomer(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "customer-1", "customer123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/cart/items", token, map[string]any{
		"product_id": "prd-opc53-bag",
		"quantity":   "20",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, map[string]any{
		"payment_method":     "cash-on-delivery",
		"advance_percentage": "100",
		"delivery_address": map[string]string{
			"line1":   "14 MG Road",
			"city":    "Bengaluru",
			"state":   "KA",
			"pincode": "560001",
			"phone":   "9000000001",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/orders/"+resp.Orders[0].ID+"/transition", token, map[string]string{
		"status": "confirmed",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for customer transition, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSupplierAdvancesOrder(t *testing.T) {
	api := newTestAPI(t)
	customer := login(t, api, "customer-1", "customer123")
	supplier := login(t, api, "sup-cement-house", "supplier123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/cart/items", customer, map[string]any{
		"product_id": "prd-opc53-bag",
		"quantity":   "20",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/checkout", customer, map[string]any{
		"payment_method":     "cash-on-delivery",
		"advance_percentage": "100",
		"delivery_address": map[string]string{
			"line1":   "14 MG Road",
			"city":    "Bengaluru",
			"state":   "KA",
			"pincode": "560001",
			"phone":   "9000000001",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	orderID := resp.Orders[0].ID

	rec = doJSON(t, api, http.MethodPost, "/api/v1/orders/"+orderID+"/transition", supplier, map[string]string{
		"status": "confirmed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("supplier transition failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/orders/supplier?status=confirmed", supplier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("supplier order list failed: %d %s", rec.Code, rec.Body.String())
	}
	var listBody struct {
		Orders []domain.Order `json:"orders"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listBody); err != nil {
		t.Fatalf("decode orders: %v", err)
	}
	if len(listBody.Orders) != 1 || listBody.Orders[0].ID != orderID {
		t.Fatalf("expected the confirmed order in supplier listing, got %+v", listBody.Orders)
	}
}
