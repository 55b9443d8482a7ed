package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/store"
)

func TestReserveStockNeverOverdraws(t *testing.T) {
	databaseURL := os.Getenv("NIRMAAN_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set NIRMAAN_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	supplierID := fmt.Sprintf("sup-reserve-it-%d", stamp)
	productID := fmt.Sprintf("prd-reserve-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_records WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, supplierID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, commission_rate_percent, created_at)
		VALUES ($1, 'Reserve IT Supplier', '', 5, now())
	`, supplierID); err != nil {
		t.Fatalf("insert supplier: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, supplier_id, name, category, unit, unit_price, min_order_qty, active, approved, created_at, updated_at)
		VALUES ($1, $2, 'Reserve IT Sand', 'sand', 'tonne', 1450, 1, true, true, now(), now())
	`, productID, supplierID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_records (product_id, available, reserved) VALUES ($1, 10, 0)
	`, productID); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	qty := decimal.NewFromInt(7)
	if err := s.ReserveStock(ctx, map[string]decimal.Decimal{productID: qty}); err != nil {
		t.Fatalf("first reservation: %v", err)
	}

	// Second reservation for 7 must fail: only 3 remain available.
	err = s.ReserveStock(ctx, map[string]decimal.Decimal{productID: qty})
	if err == nil {
		t.Fatal("expected second reservation to fail")
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	stock, err := s.GetStockMap(ctx, []string{productID})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	rec := stock[productID]
	if !rec.Available.Equal(decimal.NewFromInt(3)) || !rec.Reserved.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("stock = %+v, want available 3 reserved 7", rec)
	}

	if err := s.ReleaseStock(ctx, map[string]decimal.Decimal{productID: qty}); err != nil {
		t.Fatalf("release: %v", err)
	}
	stock, _ = s.GetStockMap(ctx, []string{productID})
	if !stock[productID].Available.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("available = %s after release, want 10", stock[productID].Available)
	}
}
