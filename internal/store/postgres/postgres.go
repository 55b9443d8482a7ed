package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/store"
	"nirmaan/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.Name == "" || supplier.CommissionRatePercent.IsNegative() {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, commission_rate_percent, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.CommissionRatePercent, supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, supplierID string) (*domain.Supplier, error) {
	var sup domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, commission_rate_percent, created_at
		FROM suppliers
		WHERE id = $1
	`, supplierID).Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.CommissionRatePercent, &sup.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, commission_rate_percent, created_at
		FROM suppliers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.CommissionRatePercent, &sup.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initialStock decimal.Decimal) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" || product.Unit == "" || !product.UnitPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	if initialStock.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.MinOrderQty.IsZero() {
		product.MinOrderQty = decimal.NewFromFloat(0.1)
	}
	product.Active = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, supplier_id, name, category, unit, unit_price, min_order_qty, active, approved, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
	`, product.ID, product.SupplierID, product.Name, product.Category, product.Unit,
		product.UnitPrice, product.MinOrderQty, product.Active, product.Approved)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_records (product_id, available, reserved)
		VALUES ($1,$2,0)
	`, product.ID, initialStock)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, name, category, unit, unit_price, min_order_qty, active, approved
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.SupplierID, &p.Name, &p.Category, &p.Unit, &p.UnitPrice, &p.MinOrderQty, &p.Active, &p.Approved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, name, category, unit, unit_price, min_order_qty, active, approved
		FROM products
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Name, &p.Category, &p.Unit, &p.UnitPrice, &p.MinOrderQty, &p.Active, &p.Approved); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, supplierID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, name, category, unit, unit_price, min_order_qty, active, approved
		FROM products
		WHERE active = true AND ($1 = '' OR supplier_id = $1)
		ORDER BY category, name
	`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Name, &p.Category, &p.Unit, &p.UnitPrice, &p.MinOrderQty, &p.Active, &p.Approved); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) SetProductActive(ctx context.Context, productID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET active = $2, updated_at = now() WHERE id = $1
	`, productID, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetStockMap(ctx context.Context, productIDs []string) (map[string]domain.StockRecord, error) {
	result := make(map[string]domain.StockRecord, len(productIDs))
	for _, id := range productIDs {
		result[id] = domain.StockRecord{ProductID: id, Available: decimal.Zero, Reserved: decimal.Zero}
	}
	if len(productIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, available, reserved
		FROM stock_records
		WHERE product_id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.Available, &rec.Reserved); err != nil {
			return nil, err
		}
		result[rec.ProductID] = rec
	}
	return result, rows.Err()
}

func (s *Store) SetStock(ctx context.Context, productID string, available decimal.Decimal) error {
	if productID == "" || available.IsNegative() {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_records SET available = $2 WHERE product_id = $1
	`, productID, available)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	return nil
}

// ReserveStock issues one conditional decrement per product inside a
// single transaction. The WHERE available >= qty guard is the whole
// point: there is never a read-then-write window where a concurrent
// checkout could drive available negative.
func (s *Store) ReserveStock(ctx context.Context, lines map[string]decimal.Decimal) error {
	return s.adjustStock(ctx, lines, `
		UPDATE stock_records
		SET available = available - $2, reserved = reserved + $2
		WHERE product_id = $1 AND available >= $2
	`, store.ErrInsufficientStock)
}

func (s *Store) ReleaseStock(ctx context.Context, lines map[string]decimal.Decimal) error {
	return s.adjustStock(ctx, lines, `
		UPDATE stock_records
		SET reserved = reserved - $2, available = available + $2
		WHERE product_id = $1 AND reserved >= $2
	`, store.ErrInvariantViolation)
}

func (s *Store) ConvertReservedToSold(ctx context.Context, lines map[string]decimal.Decimal) error {
	return s.adjustStock(ctx, lines, `
		UPDATE stock_records
		SET reserved = reserved - $2
		WHERE product_id = $1 AND reserved >= $2
	`, store.ErrInvariantViolation)
}

func (s *Store) adjustStock(ctx context.Context, lines map[string]decimal.Decimal, query string, guardErr error) error {
	if len(lines) == 0 {
		return nil
	}
	// Deterministic order keeps concurrent multi-line adjustments from
	// deadlocking each other.
	ids := make([]string, 0, len(lines))
	for id := range lines {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		qty := lines[id]
		if !qty.IsPositive() {
			return fmt.Errorf("%w: non-positive quantity for %s", store.ErrValidation, id)
		}
		res, err := tx.ExecContext(ctx, query, id, qty)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stock_records WHERE product_id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
			}
			return fmt.Errorf("%w: product %s cannot absorb %s", guardErr, id, qty)
		}
	}
	return tx.Commit()
}

func (s *Store) GetCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error) {
	var cart domain.Cart
	var itemsRaw, discountsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, items, discounts, subtotal, commission, total_amount, final_amount, created_at, updated_at
		FROM carts
		WHERE customer_id = $1
	`, customerID).Scan(&cart.ID, &cart.CustomerID, &itemsRaw, &discountsRaw,
		&cart.Subtotal, &cart.Commission, &cart.TotalAmount, &cart.FinalAmount, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsRaw, &cart.Items); err != nil {
		return nil, err
	}
	if len(discountsRaw) > 0 {
		if err := json.Unmarshal(discountsRaw, &cart.Discounts); err != nil {
			return nil, err
		}
	}
	return &cart, nil
}

func (s *Store) SaveCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	if cart.CustomerID == "" {
		return nil, store.ErrValidation
	}
	if cart.ID == "" {
		cart.ID = xid.New("cart")
	}
	itemsRaw, err := json.Marshal(cart.Items)
	if err != nil {
		return nil, err
	}
	discountsRaw, err := json.Marshal(cart.Discounts)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	cart.UpdatedAt = now
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO carts (customer_id, id, items, discounts, subtotal, commission, total_amount, final_amount, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (customer_id) DO UPDATE SET
			items = EXCLUDED.items,
			discounts = EXCLUDED.discounts,
			subtotal = EXCLUDED.subtotal,
			commission = EXCLUDED.commission,
			total_amount = EXCLUDED.total_amount,
			final_amount = EXCLUDED.final_amount,
			updated_at = EXCLUDED.updated_at
	`, cart.CustomerID, cart.ID, itemsRaw, discountsRaw,
		cart.Subtotal, cart.Commission, cart.TotalAmount, cart.FinalAmount, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		return nil, err
	}
	saved := cart
	return &saved, nil
}

func (s *Store) DeleteCart(ctx context.Context, customerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE customer_id = $1`, customerID)
	return err
}

const orderColumns = `
	id, checkout_group_id, customer_id, supplier_id, status,
	lines, pricing, payment, delivery_address,
	cooling_start, cooling_end, notes, timeline, cancellation, invoice,
	delivery_otp_hash, stock_released, created_at, updated_at
`

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	raw, err := marshalOrderBlobs(order)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, order.ID, order.CheckoutGroupID, order.CustomerID, order.SupplierID, order.Status,
		raw.lines, raw.pricing, raw.payment, raw.address,
		order.CoolingPeriod.StartTime, order.CoolingPeriod.EndTime, order.Notes,
		raw.timeline, raw.cancellation, raw.invoice,
		order.DeliveryOTPHash, order.StockReleased, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return order, err
}

func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2`,
		customerID, normalizeLimit(limit))
}

func (s *Store) ListOrdersBySupplier(ctx context.Context, supplierID string, status string, limit int) ([]domain.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE supplier_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3
	`, supplierID, status, normalizeLimit(limit))
}

func (s *Store) ListOrdersByCheckoutGroup(ctx context.Context, checkoutGroupID string) ([]domain.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE checkout_group_id = $1 ORDER BY created_at DESC`, checkoutGroupID)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// UpdateOrder is a compare-and-set on status: the row is written only if
// the stored status still matches what the caller read, so racing
// supplier and customer updates cannot clobber each other.
func (s *Store) UpdateOrder(ctx context.Context, order domain.Order, expectStatus string) (*domain.Order, error) {
	raw, err := marshalOrderBlobs(order)
	if err != nil {
		return nil, err
	}
	order.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $2, lines = $3, pricing = $4, payment = $5, delivery_address = $6,
			notes = $7, timeline = $8, cancellation = $9, invoice = $10,
			delivery_otp_hash = $11, stock_released = $12, updated_at = $13
		WHERE id = $1 AND status = $14
	`, order.ID, order.Status, raw.lines, raw.pricing, raw.payment, raw.address,
		order.Notes, raw.timeline, raw.cancellation, raw.invoice,
		order.DeliveryOTPHash, order.StockReleased, order.UpdatedAt, expectStatus)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: order %s no longer in %s", store.ErrConflict, order.ID, expectStatus)
	}
	updated := order
	return &updated, nil
}

func (s *Store) CreatePromotion(ctx context.Context, promo domain.Promotion) (*domain.Promotion, error) {
	if promo.Name == "" || promo.Amount.IsNegative() || promo.MinOrderAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	if promo.CreatedAt.IsZero() {
		promo.CreatedAt = time.Now().UTC()
	}
	promo.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promotions (id, supplier_id, name, min_order_amount, amount, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, promo.ID, promo.SupplierID, promo.Name, promo.MinOrderAmount, promo.Amount, promo.Active, promo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := promo
	return &created, nil
}

func (s *Store) ListPromotions(ctx context.Context, supplierID string, activeOnly bool) ([]domain.Promotion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, name, min_order_amount, amount, active, created_at
		FROM promotions
		WHERE ($1 = '' OR supplier_id = $1) AND (NOT $2 OR active)
		ORDER BY id
	`, supplierID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	promos := make([]domain.Promotion, 0, 16)
	for rows.Next() {
		var p domain.Promotion
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Name, &p.MinOrderAmount, &p.Amount, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

func (s *Store) UpdatePromotionActive(ctx context.Context, promoID string, active bool) (*domain.Promotion, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE promotions SET active = $2 WHERE id = $1`, promoID, active)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	var p domain.Promotion
	err = s.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, name, min_order_amount, amount, active, created_at
		FROM promotions WHERE id = $1
	`, promoID).Scan(&p.ID, &p.SupplierID, &p.Name, &p.MinOrderAmount, &p.Amount, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users WHERE username = $1
	`, username).Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

type orderBlobs struct {
	lines        []byte
	pricing      []byte
	payment      []byte
	address      []byte
	timeline     []byte
	cancellation []byte
	invoice      []byte
}

func marshalOrderBlobs(order domain.Order) (orderBlobs, error) {
	var raw orderBlobs
	var err error
	if raw.lines, err = json.Marshal(order.Lines); err != nil {
		return raw, err
	}
	if raw.pricing, err = json.Marshal(order.Pricing); err != nil {
		return raw, err
	}
	if raw.payment, err = json.Marshal(order.Payment); err != nil {
		return raw, err
	}
	if raw.address, err = json.Marshal(order.DeliveryAddress); err != nil {
		return raw, err
	}
	if raw.timeline, err = json.Marshal(order.Timeline); err != nil {
		return raw, err
	}
	if order.Cancellation != nil {
		if raw.cancellation, err = json.Marshal(order.Cancellation); err != nil {
			return raw, err
		}
	}
	if order.Invoice != nil {
		if raw.invoice, err = json.Marshal(order.Invoice); err != nil {
			return raw, err
		}
	}
	return raw, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var lines, pricing, payment, address, timeline []byte
	var cancellation, invoice []byte
	err := row.Scan(&order.ID, &order.CheckoutGroupID, &order.CustomerID, &order.SupplierID, &order.Status,
		&lines, &pricing, &payment, &address,
		&order.CoolingPeriod.StartTime, &order.CoolingPeriod.EndTime, &order.Notes,
		&timeline, &cancellation, &invoice,
		&order.DeliveryOTPHash, &order.StockReleased, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &order.Lines); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pricing, &order.Pricing); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payment, &order.Payment); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &order.DeliveryAddress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(timeline, &order.Timeline); err != nil {
		return nil, err
	}
	if len(cancellation) > 0 {
		order.Cancellation = &domain.Cancellation{}
		if err := json.Unmarshal(cancellation, order.Cancellation); err != nil {
			return nil, err
		}
	}
	if len(invoice) > 0 {
		order.Invoice = &domain.Invoice{}
		if err := json.Unmarshal(invoice, order.Invoice); err != nil {
			return nil, err
		}
	}
	return &order, nil
}

func normalizeLimit(limit int) int {
	if limit < 1 || limit > 200 {
		return 50
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
