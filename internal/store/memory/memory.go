package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/store"
	"nirmaan/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	suppliersByID   map[string]domain.Supplier
	productsByID    map[string]domain.Product
	stockByProduct  map[string]domain.StockRecord
	cartsByCustomer map[string]domain.Cart
	ordersByID      map[string]domain.Order
	promosByID      map[string]domain.Promotion
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_*_PASSWORD environment variables; hardcoded
// dev defaults are used with a warning when unset. Never used in
// production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	customerPwd := envOr("SEED_CUSTOMER_PASSWORD", "customer123")
	supplierPwd := envOr("SEED_SUPPLIER_PASSWORD", "supplier123")
	agentPwd := envOr("SEED_AGENT_PASSWORD", "agent123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"customer-1", customerPwd, domain.RoleCustomer},
		{"sup-cement-house", supplierPwd, domain.RoleSupplier},
		{"sup-shakti-steel", supplierPwd, domain.RoleSupplier},
		{"agent-1", agentPwd, domain.RoleAgent},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	suppliers := []domain.Supplier{
		{ID: "sup-cement-house", Name: "Cement House", Phone: "+91-9800000001", CommissionRatePercent: dec("5"), CreatedAt: now},
		{ID: "sup-shakti-steel", Name: "Shakti Steel Traders", Phone: "+91-9800000002", CommissionRatePercent: dec("5"), CreatedAt: now},
		{ID: "sup-river-sands", Name: "River Sands Co", Phone: "+91-9800000003", CommissionRatePercent: dec("7.5"), CreatedAt: now},
	}

	products := []domain.Product{
		{ID: "prd-opc53-bag", SupplierID: "sup-cement-house", Name: "OPC 53 Grade Cement", Category: "cement", Unit: "bag", UnitPrice: dec("420"), MinOrderQty: dec("10"), Active: true, Approved: true},
		{ID: "prd-ppc-bag", SupplierID: "sup-cement-house", Name: "PPC Cement", Category: "cement", Unit: "bag", UnitPrice: dec("380"), MinOrderQty: dec("10"), Active: true, Approved: true},
		{ID: "prd-tmt-8mm", SupplierID: "sup-shakti-steel", Name: "TMT Bar 8mm", Category: "bar-steel", Unit: "tonne", UnitPrice: dec("58500"), MinOrderQty: dec("0.5"), Active: true, Approved: true},
		{ID: "prd-tmt-12mm", SupplierID: "sup-shakti-steel", Name: "TMT Bar 12mm", Category: "bar-steel", Unit: "tonne", UnitPrice: dec("56800"), MinOrderQty: dec("0.5"), Active: true, Approved: true},
		{ID: "prd-binding-wire", SupplierID: "sup-shakti-steel", Name: "Binding Wire", Category: "hardware", Unit: "kg", UnitPrice: dec("78"), MinOrderQty: dec("5"), Active: true, Approved: true},
		{ID: "prd-m-sand", SupplierID: "sup-river-sands", Name: "M Sand", Category: "sand", Unit: "tonne", UnitPrice: dec("1450"), MinOrderQty: dec("1"), Active: true, Approved: true},
		{ID: "prd-river-sand", SupplierID: "sup-river-sands", Name: "River Sand", Category: "sand", Unit: "tonne", UnitPrice: dec("2100"), MinOrderQty: dec("1"), Active: true, Approved: true},
		{ID: "prd-20mm-agg", SupplierID: "sup-river-sands", Name: "20mm Aggregate", Category: "aggregate", Unit: "tonne", UnitPrice: dec("1250"), MinOrderQty: dec("1"), Active: true, Approved: true},
	}

	supplierMap := make(map[string]domain.Supplier, len(suppliers))
	for _, s := range suppliers {
		supplierMap[s.ID] = s
	}
	productMap := make(map[string]domain.Product, len(products))
	stock := make(map[string]domain.StockRecord, len(products))
	for _, p := range products {
		productMap[p.ID] = p
		stock[p.ID] = domain.StockRecord{ProductID: p.ID, Available: dec("500"), Reserved: decimal.Zero}
	}

	return &Store{
		suppliersByID:   supplierMap,
		productsByID:    productMap,
		stockByProduct:  stock,
		cartsByCustomer: make(map[string]domain.Cart),
		ordersByID:      make(map[string]domain.Order),
		promosByID:      make(map[string]domain.Promotion),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.Name == "" || supplier.CommissionRatePercent.IsNegative() {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if _, exists := s.suppliersByID[supplier.ID]; exists {
		return nil, store.ErrConflict
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(_ context.Context, supplierID string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliersByID[supplierID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sup := range s.suppliersByID {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initialStock decimal.Decimal) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Category == "" || product.Unit == "" {
		return nil, store.ErrValidation
	}
	if !product.UnitPrice.IsPositive() || initialStock.IsNegative() {
		return nil, store.ErrValidation
	}
	if _, exists := s.suppliersByID[product.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.productsByID[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.MinOrderQty.IsZero() {
		product.MinOrderQty = dec("0.1")
	}

	product.Active = true
	s.productsByID[product.ID] = product
	s.stockByProduct[product.ID] = domain.StockRecord{ProductID: product.ID, Available: initialStock, Reserved: decimal.Zero}
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.productsByID[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, supplierID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if !p.Active {
			continue
		}
		if supplierID != "" && p.SupplierID != supplierID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) SetProductActive(_ context.Context, productID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[productID]
	if !exists {
		return store.ErrNotFound
	}
	product.Active = active
	s.productsByID[productID] = product
	return nil
}

func (s *Store) GetStockMap(_ context.Context, productIDs []string) (map[string]domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.StockRecord, len(productIDs))
	for _, id := range productIDs {
		rec, ok := s.stockByProduct[id]
		if !ok {
			rec = domain.StockRecord{ProductID: id, Available: decimal.Zero, Reserved: decimal.Zero}
		}
		result[id] = rec
	}
	return result, nil
}

func (s *Store) SetStock(_ context.Context, productID string, available decimal.Decimal) error {
	if productID == "" || available.IsNegative() {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[productID]; !exists {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	rec := s.stockByProduct[productID]
	rec.ProductID = productID
	rec.Available = available
	s.stockByProduct[productID] = rec
	return nil
}

// ReserveStock validates every line under the write lock before mutating
// anything, so a shortfall on the last line leaves the ledger untouched.
func (s *Store) ReserveStock(_ context.Context, lines map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, qty := range lines {
		if !qty.IsPositive() {
			return fmt.Errorf("%w: non-positive quantity for %s", store.ErrValidation, productID)
		}
		rec, ok := s.stockByProduct[productID]
		if !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		if rec.Available.LessThan(qty) {
			return fmt.Errorf("%w: product %s has %s available, need %s",
				store.ErrInsufficientStock, productID, rec.Available, qty)
		}
	}
	for productID, qty := range lines {
		rec := s.stockByProduct[productID]
		rec.Available = rec.Available.Sub(qty)
		rec.Reserved = rec.Reserved.Add(qty)
		s.stockByProduct[productID] = rec
	}
	return nil
}

func (s *Store) ReleaseStock(_ context.Context, lines map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, qty := range lines {
		rec, ok := s.stockByProduct[productID]
		if !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		if rec.Reserved.LessThan(qty) {
			return fmt.Errorf("%w: release of %s exceeds reserved %s for %s",
				store.ErrInvariantViolation, qty, rec.Reserved, productID)
		}
	}
	for productID, qty := range lines {
		rec := s.stockByProduct[productID]
		rec.Reserved = rec.Reserved.Sub(qty)
		rec.Available = rec.Available.Add(qty)
		s.stockByProduct[productID] = rec
	}
	return nil
}

func (s *Store) ConvertReservedToSold(_ context.Context, lines map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, qty := range lines {
		rec, ok := s.stockByProduct[productID]
		if !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		if rec.Reserved.LessThan(qty) {
			return fmt.Errorf("%w: sold %s exceeds reserved %s for %s",
				store.ErrInvariantViolation, qty, rec.Reserved, productID)
		}
	}
	for productID, qty := range lines {
		rec := s.stockByProduct[productID]
		rec.Reserved = rec.Reserved.Sub(qty)
		s.stockByProduct[productID] = rec
	}
	return nil
}

func (s *Store) GetCartByCustomer(_ context.Context, customerID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, exists := s.cartsByCustomer[customerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	cloned := cloneCart(cart)
	return &cloned, nil
}

func (s *Store) SaveCart(_ context.Context, cart domain.Cart) (*domain.Cart, error) {
	if cart.CustomerID == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cart.ID == "" {
		cart.ID = xid.New("cart")
	}
	cart.UpdatedAt = time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}
	s.cartsByCustomer[cart.CustomerID] = cloneCart(cart)
	saved := cloneCart(cart)
	return &saved, nil
}

func (s *Store) DeleteCart(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cartsByCustomer, customerID)
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	s.ordersByID[order.ID] = cloneOrder(order)
	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	cloned := cloneOrder(order)
	return &cloned, nil
}

func (s *Store) ListOrdersByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectOrders(func(o domain.Order) bool {
		return o.CustomerID == customerID
	}, limit), nil
}

func (s *Store) ListOrdersBySupplier(_ context.Context, supplierID string, status string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectOrders(func(o domain.Order) bool {
		if o.SupplierID != supplierID {
			return false
		}
		return status == "" || o.Status == status
	}, limit), nil
}

func (s *Store) ListOrdersByCheckoutGroup(_ context.Context, checkoutGroupID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectOrders(func(o domain.Order) bool {
		return o.CheckoutGroupID == checkoutGroupID
	}, 0), nil
}

// collectOrders must be called with at least the read lock held.
func (s *Store) collectOrders(match func(domain.Order) bool, limit int) []domain.Order {
	orders := make([]domain.Order, 0, 16)
	for _, o := range s.ordersByID {
		if match(o) {
			orders = append(orders, cloneOrder(o))
		}
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order, expectStatus string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.ordersByID[order.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if current.Status != expectStatus {
		return nil, fmt.Errorf("%w: order %s is %s, expected %s",
			store.ErrConflict, order.ID, current.Status, expectStatus)
	}
	order.CreatedAt = current.CreatedAt
	order.UpdatedAt = time.Now().UTC()
	s.ordersByID[order.ID] = cloneOrder(order)
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) CreatePromotion(_ context.Context, promo domain.Promotion) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if promo.Name == "" || promo.Amount.IsNegative() || promo.MinOrderAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	if _, exists := s.suppliersByID[promo.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}
	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	promo.Active = true
	s.promosByID[promo.ID] = promo
	created := promo
	return &created, nil
}

func (s *Store) ListPromotions(_ context.Context, supplierID string, activeOnly bool) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	promos := make([]domain.Promotion, 0, len(s.promosByID))
	for _, p := range s.promosByID {
		if supplierID != "" && p.SupplierID != supplierID {
			continue
		}
		if activeOnly && !p.Active {
			continue
		}
		promos = append(promos, p)
	}
	slices.SortFunc(promos, func(a, b domain.Promotion) int {
		return cmpString(a.ID, b.ID)
	})
	return promos, nil
}

func (s *Store) UpdatePromotionActive(_ context.Context, promoID string, active bool) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo, exists := s.promosByID[promoID]
	if !exists {
		return nil, store.ErrNotFound
	}
	promo.Active = active
	s.promosByID[promoID] = promo
	updated := promo
	return &updated, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cloned := cart
	cloned.Items = slices.Clone(cart.Items)
	cloned.Discounts = slices.Clone(cart.Discounts)
	return cloned
}

func cloneOrder(order domain.Order) domain.Order {
	cloned := order
	cloned.Lines = make([]domain.OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		cloned.Lines[i] = line
		if line.ActualDelivered != nil {
			v := *line.ActualDelivered
			cloned.Lines[i].ActualDelivered = &v
		}
	}
	cloned.Timeline = slices.Clone(order.Timeline)
	if order.Cancellation != nil {
		c := *order.Cancellation
		cloned.Cancellation = &c
	}
	if order.Invoice != nil {
		inv := *order.Invoice
		inv.AdjustedLines = slices.Clone(order.Invoice.AdjustedLines)
		cloned.Invoice = &inv
	}
	return cloned
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
