package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"nirmaan/backend/internal/cache"
	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/service"
	"nirmaan/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	catalog       cache.CatalogCache
	catalogTTL    time.Duration
	allowedOrigin string
	loginLimiter  *attemptLimiter
	otpLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, catalog cache.CatalogCache, catalogTTL time.Duration, allowedOrigin string) *API {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 5 * time.Minute
	}
	return &API{
		service:       svc,
		auth:          auth,
		catalog:       catalog,
		catalogTTL:    catalogTTL,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		otpLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/accounts", a.requireAuth(a.handleAccounts, "admin"))

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, "customer", "supplier", "agent", "admin"))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, "customer", "supplier", "agent", "admin"))
	mux.HandleFunc("/api/v1/suppliers", a.requireAuth(a.handleSuppliers, "customer", "supplier", "agent", "admin"))
	mux.HandleFunc("/api/v1/promotions", a.requireAuth(a.handlePromotions, "customer", "supplier", "agent", "admin"))
	mux.HandleFunc("/api/v1/promotions/", a.requireAuth(a.handlePromotionActions, "supplier", "admin"))

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart, "customer"))
	mux.HandleFunc("/api/v1/cart/items", a.requireAuth(a.handleCartItems, "customer"))
	mux.HandleFunc("/api/v1/cart/items/", a.requireAuth(a.handleCartItemActions, "customer"))
	mux.HandleFunc("/api/v1/cart/discounts", a.requireAuth(a.handleCartDiscounts, "customer"))
	mux.HandleFunc("/api/v1/cart/discounts/", a.requireAuth(a.handleCartDiscountActions, "customer"))
	mux.HandleFunc("/api/v1/cart/validate", a.requireAuth(a.handleCartValidate, "customer"))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, "customer"))

	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleMyOrders, "customer"))
	mux.HandleFunc("/api/v1/orders/supplier", a.requireAuth(a.handleSupplierOrders, "supplier", "agent", "admin"))
	mux.HandleFunc("/api/v1/orders/group/", a.requireAuth(a.handleCheckoutGroup, "customer", "supplier", "agent", "admin"))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, "customer", "supplier", "agent", "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.AccountCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := a.auth.CreateAccount(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"username": account.Username,
		"role":     account.Role,
		"active":   account.Active,
	})
}

func catalogKey(supplierID string) string {
	if supplierID == "" {
		return "catalog:all"
	}
	return "catalog:supplier:" + supplierID
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		supplierID := strings.TrimSpace(r.URL.Query().Get("supplier_id"))

		if cached, ok, err := a.catalog.Get(r.Context(), catalogKey(supplierID)); err == nil && ok {
			writeJSON(w, http.StatusOK, map[string]any{"products": cached})
			return
		}

		products, err := a.service.ListProducts(r.Context(), supplierID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if err := a.catalog.Set(r.Context(), catalogKey(supplierID), products, a.catalogTTL); err != nil {
			log.Printf("[httpapi] catalog cache set failed: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		product, err := a.service.CreateProduct(r.Context(), domain.Product{
			SupplierID:  req.SupplierID,
			Name:        req.Name,
			Category:    req.Category,
			Unit:        req.Unit,
			UnitPrice:   req.UnitPrice,
			MinOrderQty: req.MinOrderQty,
			Active:      true,
		}, req.InitialStock)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		a.invalidateCatalog(r, product.SupplierID)
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) invalidateCatalog(r *http.Request, supplierID string) {
	for _, key := range []string{catalogKey(""), catalogKey(supplierID)} {
		if err := a.catalog.Invalidate(r.Context(), key); err != nil {
			log.Printf("[httpapi] catalog cache invalidate failed: %v", err)
		}
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/products/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	if strings.HasSuffix(tail, "/active") {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		productID := strings.Trim(strings.TrimSuffix(tail, "/active"), "/")
		var req domain.ToggleActiveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.GetProduct(r.Context(), productID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if err := a.service.SetProductActive(r.Context(), productID, req.Active); err != nil {
			writeServiceError(w, err)
			return
		}
		a.invalidateCatalog(r, product.SupplierID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if strings.HasSuffix(tail, "/stock") {
		productID := strings.Trim(strings.TrimSuffix(tail, "/stock"), "/")
		switch r.Method {
		case http.MethodGet:
			records, err := a.service.GetStock(r.Context(), []string{productID})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			record, ok := records[productID]
			if !ok {
				writeError(w, http.StatusNotFound, errors.New("stock record not found"))
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"stock": record})
		case http.MethodPut:
			var req domain.StockSetRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := a.service.SetStock(r.Context(), productID, req.Available); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	product, err := a.service.GetProduct(r.Context(), tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		suppliers, err := a.service.ListSuppliers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
	case http.MethodPost:
		var req domain.SupplierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		supplier, err := a.service.CreateSupplier(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePromotions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		supplierID := strings.TrimSpace(r.URL.Query().Get("supplier_id"))
		activeOnly := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true")
		promos, err := a.service.ListPromotions(r.Context(), supplierID, activeOnly)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"promotions": promos})
	case http.MethodPost:
		var req domain.PromotionCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		promo, err := a.service.CreatePromotion(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"promotion": promo})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePromotionActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/promotions/"
	if !strings.HasSuffix(r.URL.Path, "/toggle") {
		writeError(w, http.StatusBadRequest, errors.New("unknown promotion action"))
		return
	}
	promoID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/toggle")
	promoID = strings.TrimSpace(strings.Trim(promoID, "/"))
	if promoID == "" {
		writeError(w, http.StatusBadRequest, errors.New("promotion id required"))
		return
	}

	var req domain.ToggleActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	promo, err := a.service.SetPromotionActive(r.Context(), promoID, req.Active)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promotion": promo})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cart, err := a.service.GetCart(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
	case http.MethodDelete:
		if err := a.service.ClearCart(r.Context()); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.AddItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cart, err := a.service.AddItem(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
	case http.MethodPatch:
		var req domain.UpdateQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cart, err := a.service.UpdateItemQuantity(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/cart/items/"
	productID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	cart, err := a.service.RemoveItem(r.Context(), productID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCartDiscounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ApplyDiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cart, err := a.service.ApplyDiscount(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCartDiscountActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/cart/discounts/"
	kind := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if kind == "" {
		writeError(w, http.StatusBadRequest, errors.New("discount kind required"))
		return
	}

	cart, err := a.service.RemoveDiscount(r.Context(), kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCartValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	violations, err := a.service.ValidateCart(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Partial success still creates orders; the failures slice tells the
	// client which suppliers did not go through.
	status := http.StatusCreated
	if len(resp.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func (a *API) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	orders, err := a.service.ListMyOrders(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleSupplierOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	supplierID := strings.TrimSpace(r.URL.Query().Get("supplier_id"))
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)

	orders, err := a.service.ListSupplierOrders(r.Context(), supplierID, status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleCheckoutGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/orders/group/"
	groupID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if groupID == "" {
		writeError(w, http.StatusBadRequest, errors.New("checkout group id required"))
		return
	}

	orders, err := a.service.ListCheckoutGroup(r.Context(), groupID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/orders/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	orderID := tail
	action := ""
	if idx := strings.IndexByte(tail, '/'); idx > 0 {
		orderID = tail[:idx]
		action = strings.Trim(tail[idx+1:], "/")
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			order, err := a.service.GetOrder(r.Context(), orderID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"order": order})
		case http.MethodPatch:
			var req domain.OrderMetaUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			order, err := a.service.UpdateOrderMeta(r.Context(), orderID, req.DeliveryAddress, req.Notes)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"order": order})
		default:
			writeMethodNotAllowed(w)
		}
	case "transition":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.TransitionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.TransitionStatus(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case "cancel":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.CancelRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		order, err := a.service.Cancel(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case "deliver":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		if !a.otpLimiter.Allow("otp:" + orderID + ":" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many delivery otp attempts"))
			return
		}
		var req domain.CompleteDeliveryRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		order, err := a.service.CompleteDelivery(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case "invoice":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.InvoiceUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.ReconcileInvoice(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case "payment":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.RecordPaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		order, err := a.service.RecordPayment(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown order action"))
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps the store sentinels onto HTTP statuses so every
// handler reports failures the same way.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrOTPMismatch):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrCartInvalid),
		errors.Is(err, store.ErrCoolingPeriodExpired),
		errors.Is(err, store.ErrLineNotAdjustable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvariantViolation):
		status = http.StatusInternalServerError
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
