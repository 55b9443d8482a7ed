package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/store"
	"nirmaan/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *memory.Store, *testClock) {
	t.Helper()
	repo := memory.NewSeeded()
	clock := &testClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	svc := New(repo, Options{
		CoolingPeriod:  time.Hour,
		BulkCategories: []string{"sand", "aggregate", "bar-steel"},
		Now:            clock.Now,
	})
	return svc, repo, clock
}

func customerCtx(id string) context.Context {
	return WithActor(context.Background(), domain.Actor{ID: id, Role: domain.RoleCustomer})
}

func supplierCtx(id string) context.Context {
	return WithActor(context.Background(), domain.Actor{ID: id, Role: domain.RoleSupplier})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "admin", Role: domain.RoleAdmin})
}

func agentCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "agent-1", Role: domain.RoleAgent})
}

func addItem(t *testing.T, svc *Service, ctx context.Context, productID, qty string) domain.Cart {
	t.Helper()
	cart, err := svc.AddItem(ctx, domain.AddItemRequest{ProductID: productID, Quantity: dec(qty)})
	if err != nil {
		t.Fatalf("add item %s: %v", productID, err)
	}
	return cart
}

func checkoutAddress() domain.DeliveryAddress {
	return domain.DeliveryAddress{
		Line1:   "12 MG Road",
		City:    "Bengaluru",
		State:   "Karnataka",
		Pincode: "560001",
		Phone:   "+91-9900000000",
	}
}

func doCheckout(t *testing.T, svc *Service, ctx context.Context, method string, advance string) domain.CheckoutResponse {
	t.Helper()
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		DeliveryAddress:   checkoutAddress(),
		PaymentMethod:     method,
		AdvancePercentage: dec(advance),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return resp
}

func TestAddItemMergesLines(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	cart := addItem(t, svc, ctx, "prd-opc53-bag", "5")

	if len(cart.Items) != 1 {
		t.Fatalf("expected one merged line, got %d", len(cart.Items))
	}
	if !cart.Items[0].Quantity.Equal(dec("15")) {
		t.Fatalf("merged quantity = %s, want 15", cart.Items[0].Quantity)
	}
}

func TestAddItemEnforcesMinimumOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.AddItem(customerCtx("cust-1"), domain.AddItemRequest{
		ProductID: "prd-opc53-bag",
		Quantity:  dec("2"),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for below-minimum quantity, got %v", err)
	}
}

func TestAddItemEnforcesSoftStockCeiling(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.AddItem(customerCtx("cust-1"), domain.AddItemRequest{
		ProductID: "prd-m-sand",
		Quantity:  dec("501"),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCheckoutSplitsBySupplier(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	addItem(t, svc, ctx, "prd-m-sand", "5")

	resp := doCheckout(t, svc, ctx, domain.PaymentMethodCOD, "25")
	if len(resp.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d (failures: %+v)", len(resp.Orders), resp.Failures)
	}
	if len(resp.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", resp.Failures)
	}
	if resp.Orders[0].CheckoutGroupID != resp.CheckoutGroupID || resp.Orders[1].CheckoutGroupID != resp.CheckoutGroupID {
		t.Fatal("orders must share the checkout group id")
	}

	if _, err := repo.GetCartByCustomer(context.Background(), "cust-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cart should be cleared after full checkout, got %v", err)
	}

	stock, err := repo.GetStockMap(context.Background(), []string{"prd-opc53-bag", "prd-m-sand"})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if !stock["prd-opc53-bag"].Reserved.Equal(dec("10")) || !stock["prd-opc53-bag"].Available.Equal(dec("490")) {
		t.Fatalf("cement stock = %+v, want reserved 10 available 490", stock["prd-opc53-bag"])
	}
	if !stock["prd-m-sand"].Reserved.Equal(dec("5")) {
		t.Fatalf("sand reserved = %s, want 5", stock["prd-m-sand"].Reserved)
	}
}

func TestCheckoutPricingCashOnDelivery(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := customerCtx("cust-1")

	// 10 bags at 420 from a 5 percent commission supplier.
	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	resp := doCheckout(t, svc, ctx, domain.PaymentMethodCOD, "25")

	p := resp.Orders[0].Pricing
	if !p.Subtotal.Equal(dec("4200")) {
		t.Fatalf("subtotal = %s, want 4200", p.Subtotal)
	}
	if !p.Commission.Equal(dec("210")) {
		t.Fatalf("commission = %s, want 210", p.Commission)
	}
	if !p.GSTAmount.Equal(dec("756")) {
		t.Fatalf("gst = %s, want 756", p.GSTAmount)
	}
	if !p.GatewayCharges.IsZero() {
		t.Fatalf("gateway charges = %s, want 0 for cash on delivery", p.GatewayCharges)
	}
	if !p.TotalAmount.Equal(dec("5166")) {
		t.Fatalf("total = %s, want 5166", p.TotalAmount)
	}

	pay := resp.Orders[0].Payment
	if !pay.AdvancePercentage.Equal(dec("100")) {
		t.Fatalf("cash on delivery must force full advance, got %s", pay.AdvancePercentage)
	}
	if !pay.AdvanceAmount.Equal(dec("5166")) || !pay.RemainingAmount.IsZero() {
		t.Fatalf("split = %s / %s, want 5166 / 0", pay.AdvanceAmount, pay.RemainingAmount)
	}
}

// contendedStockRepo stands in for another customer who reserves the
// contested product after cart validation has passed but before this
// checkout's own reservation reaches the ledger.
type contendedStockRepo struct {
	store.Repository
	mu        sync.Mutex
	contested string
	grab      decimal.Decimal
}

func (r *contendedStockRepo) ReserveStock(ctx context.Context, lines map[string]decimal.Decimal) error {
	r.mu.Lock()
	grab := decimal.Zero
	if _, ok := lines[r.contested]; ok && r.grab.IsPositive() {
		grab = r.grab
		r.grab = decimal.Zero
	}
	r.mu.Unlock()
	if grab.IsPositive() {
		if err := r.Repository.ReserveStock(ctx, map[string]decimal.Decimal{r.contested: grab}); err != nil {
			return err
		}
	}
	return r.Repository.ReserveStock(ctx, lines)
}

func TestCheckoutInsufficientStockIsPerSupplier(t *testing.T) {
	repo := memory.NewSeeded()
	racer := &contendedStockRepo{Repository: repo, contested: "prd-m-sand", grab: dec("250")}
	svc := New(racer, Options{
		CoolingPeriod:  time.Hour,
		BulkCategories: []string{"sand", "aggregate", "bar-steel"},
	})
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	addItem(t, svc, ctx, "prd-m-sand", "300")

	resp := doCheckout(t, svc, ctx, domain.PaymentMethodCOD, "25")
	if len(resp.Orders) != 1 {
		t.Fatalf("expected the cement order to survive, got %d orders (failures %+v)", len(resp.Orders), resp.Failures)
	}
	if resp.Orders[0].SupplierID != "sup-cement-house" {
		t.Fatalf("surviving order supplier = %s", resp.Orders[0].SupplierID)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].SupplierID != "sup-river-sands" {
		t.Fatalf("expected one sand failure, got %+v", resp.Failures)
	}

	// The failed group's items stay in the cart for a retry.
	cart, err := repo.GetCartByCustomer(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("cart after partial checkout: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prd-m-sand" {
		t.Fatalf("cart should retain the failed line, got %+v", cart.Items)
	}

	// The sand ledger shows only the competing reservation.
	stock, _ := repo.GetStockMap(context.Background(), []string{"prd-m-sand"})
	if !stock["prd-m-sand"].Reserved.Equal(dec("250")) {
		t.Fatalf("sand reserved = %s, want 250", stock["prd-m-sand"].Reserved)
	}
}

func TestCheckoutRejectsBadAdvance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := customerCtx("cust-1")
	addItem(t, svc, ctx, "prd-opc53-bag", "10")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		DeliveryAddress:   checkoutAddress(),
		PaymentMethod:     domain.PaymentMethodUPI,
		AdvancePercentage: dec("10"),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for 10 percent advance, got %v", err)
	}
}

func TestStatusMachineHappyPath(t *testing.T) {
	svc, _, clock := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-cement-house")

	addItem(t, svc, custCtx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID

	// Past the cooling window so the supplier can go all the way.
	clock.Advance(2 * time.Hour)

	var otp string
	for _, next := range []string{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusMaterialLoading,
		domain.OrderStatusProcessing,
		domain.OrderStatusDispatched,
	} {
		resp, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: next})
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if resp.Order.Status != next {
			t.Fatalf("status = %s, want %s", resp.Order.Status, next)
		}
		if next == domain.OrderStatusDispatched {
			otp = resp.DeliveryOTP
		} else if resp.DeliveryOTP != "" {
			t.Fatalf("otp leaked on transition to %s", next)
		}
	}
	if len(otp) != 6 {
		t.Fatalf("delivery otp = %q, want 6 digits", otp)
	}

	order, err := svc.CompleteDelivery(supCtx, orderID, domain.CompleteDeliveryRequest{OTP: otp})
	if err != nil {
		t.Fatalf("complete delivery: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("status = %s, want delivered", order.Status)
	}
	// pending, five forward moves, delivered
	if len(order.Timeline) != 7 {
		t.Fatalf("timeline has %d entries, want 7", len(order.Timeline))
	}
}

func TestStatusMachineRejectsSkips(t *testing.T) {
	svc, _, _ := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-cement-house")

	addItem(t, svc, custCtx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID

	_, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: domain.OrderStatusPreparing})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for pending -> preparing, got %v", err)
	}
	_, err = svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: domain.OrderStatusDelivered})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for direct delivered, got %v", err)
	}
}

func TestCoolingPeriodBlocksSupplierFulfilment(t *testing.T) {
	svc, _, clock := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-cement-house")

	addItem(t, svc, custCtx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID

	for _, next := range []string{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusMaterialLoading,
	} {
		if _, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: next}); err != nil {
			t.Fatalf("transition to %s during cooling: %v", next, err)
		}
	}

	_, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: domain.OrderStatusProcessing})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("processing during cooling should be blocked, got %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("processing after cooling: %v", err)
	}
}

func TestDeliveryRejectsWrongOTP(t *testing.T) {
	svc, _, clock := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-cement-house")

	addItem(t, svc, custCtx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID
	clock.Advance(2 * time.Hour)

	var otp string
	for _, next := range []string{
		domain.OrderStatusConfirmed, domain.OrderStatusPreparing,
		domain.OrderStatusMaterialLoading, domain.OrderStatusProcessing,
		domain.OrderStatusDispatched,
	} {
		resp, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: next})
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		otp = resp.DeliveryOTP
	}

	wrong := "000000"
	if wrong == otp {
		wrong = "000001"
	}
	if _, err := svc.CompleteDelivery(supCtx, orderID, domain.CompleteDeliveryRequest{OTP: wrong}); !errors.Is(err, store.ErrOTPMismatch) {
		t.Fatalf("expected otp mismatch, got %v", err)
	}
}

func TestCustomerCancelReleasesStockOnce(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, ctx, domain.PaymentMethodCOD, "25").Orders[0].ID

	order, err := svc.Cancel(ctx, orderID, domain.CancelRequest{Reason: "changed plans"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", order.Status)
	}

	stock, _ := repo.GetStockMap(context.Background(), []string{"prd-opc53-bag"})
	if !stock["prd-opc53-bag"].Available.Equal(dec("500")) || !stock["prd-opc53-bag"].Reserved.IsZero() {
		t.Fatalf("stock after cancel = %+v, want 500 available 0 reserved", stock["prd-opc53-bag"])
	}

	// Cancelling again must not double credit the ledger.
	if _, err := svc.Cancel(ctx, orderID, domain.CancelRequest{Reason: "again"}); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	stock, _ = repo.GetStockMap(context.Background(), []string{"prd-opc53-bag"})
	if !stock["prd-opc53-bag"].Available.Equal(dec("500")) {
		t.Fatalf("available drifted to %s after double cancel", stock["prd-opc53-bag"].Available)
	}
}

// conflictingOrderRepo fails a configured number of status writes with
// ErrConflict, standing in for a concurrent update racing the caller.
type conflictingOrderRepo struct {
	store.Repository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingOrderRepo) UpdateOrder(ctx context.Context, order domain.Order, expectStatus string) (*domain.Order, error) {
	r.mu.Lock()
	fail := r.conflicts > 0
	if fail {
		r.conflicts--
	}
	r.mu.Unlock()
	if fail {
		return nil, store.ErrConflict
	}
	return r.Repository.UpdateOrder(ctx, order, expectStatus)
}

func TestCancelRetryAfterConflictReleasesOnce(t *testing.T) {
	repo := memory.NewSeeded()
	racer := &conflictingOrderRepo{Repository: repo}
	svc := New(racer, Options{
		CoolingPeriod:  time.Hour,
		BulkCategories: []string{"sand", "aggregate", "bar-steel"},
	})

	ctxA := customerCtx("cust-1")
	addItem(t, svc, ctxA, "prd-opc53-bag", "10")
	orderA := doCheckout(t, svc, ctxA, domain.PaymentMethodCOD, "25").Orders[0].ID

	ctxB := customerCtx("cust-2")
	addItem(t, svc, ctxB, "prd-opc53-bag", "10")
	orderB := doCheckout(t, svc, ctxB, domain.PaymentMethodCOD, "25").Orders[0].ID

	// A concurrent write beats the first attempt. The ledger must not
	// move until a status write actually lands.
	racer.mu.Lock()
	racer.conflicts = 1
	racer.mu.Unlock()
	if _, err := svc.Cancel(ctxA, orderA, domain.CancelRequest{Reason: "changed plans"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on first attempt, got %v", err)
	}
	stock, _ := repo.GetStockMap(context.Background(), []string{"prd-opc53-bag"})
	if !stock["prd-opc53-bag"].Reserved.Equal(dec("20")) || !stock["prd-opc53-bag"].Available.Equal(dec("480")) {
		t.Fatalf("stock moved on a lost race: %+v, want 480 available 20 reserved", stock["prd-opc53-bag"])
	}

	if _, err := svc.Cancel(ctxA, orderA, domain.CancelRequest{Reason: "changed plans"}); err != nil {
		t.Fatalf("retry cancel: %v", err)
	}
	stock, _ = repo.GetStockMap(context.Background(), []string{"prd-opc53-bag"})
	if !stock["prd-opc53-bag"].Available.Equal(dec("490")) || !stock["prd-opc53-bag"].Reserved.Equal(dec("10")) {
		t.Fatalf("stock after retried cancel = %+v, want 490 available 10 reserved", stock["prd-opc53-bag"])
	}

	// The other order's reservation survived and still cancels cleanly.
	if _, err := svc.Cancel(ctxB, orderB, domain.CancelRequest{Reason: "no longer needed"}); err != nil {
		t.Fatalf("second order cancel: %v", err)
	}
	stock, _ = repo.GetStockMap(context.Background(), []string{"prd-opc53-bag"})
	if !stock["prd-opc53-bag"].Available.Equal(dec("500")) || !stock["prd-opc53-bag"].Reserved.IsZero() {
		t.Fatalf("stock after both cancels = %+v, want 500 available 0 reserved", stock["prd-opc53-bag"])
	}
}

func TestCustomerCancelRefundDecaysOverWindow(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, ctx, domain.PaymentMethodCOD, "25").Orders[0].ID
	if _, err := svc.RecordPayment(agentCtx(), orderID, domain.RecordPaymentRequest{Proof: "utr-123"}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	// 40 minutes into a 60 minute window lands in the 75 percent band.
	clock.Advance(40 * time.Minute)
	order, err := svc.Cancel(ctx, orderID, domain.CancelRequest{Reason: "late change"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	c := order.Cancellation
	if c == nil {
		t.Fatal("cancellation record missing")
	}
	if !c.AmountPaid.Equal(dec("5166")) {
		t.Fatalf("amount paid = %s, want 5166", c.AmountPaid)
	}
	if !c.RefundAmount.Equal(dec("3874.50")) {
		t.Fatalf("refund = %s, want 3874.50", c.RefundAmount)
	}
	if !c.RefundAmount.Add(c.DeductionAmount).Equal(c.AmountPaid) {
		t.Fatalf("refund %s + deduction %s != paid %s", c.RefundAmount, c.DeductionAmount, c.AmountPaid)
	}
}

func TestCustomerCancelRejectedAfterWindow(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, ctx, domain.PaymentMethodCOD, "25").Orders[0].ID

	clock.Advance(61 * time.Minute)
	_, err := svc.Cancel(ctx, orderID, domain.CancelRequest{Reason: "too late"})
	if !errors.Is(err, store.ErrCoolingPeriodExpired) {
		t.Fatalf("expected cooling period expired, got %v", err)
	}
}

func TestSupplierCancelRefundsInFull(t *testing.T) {
	svc, _, clock := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-cement-house")

	addItem(t, svc, custCtx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID
	if _, err := svc.RecordPayment(agentCtx(), orderID, domain.RecordPaymentRequest{Proof: "utr-9"}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	// Suppliers are not bound by the cooling window.
	clock.Advance(3 * time.Hour)
	order, err := svc.Cancel(supCtx, orderID, domain.CancelRequest{Reason: "out of material"})
	if err != nil {
		t.Fatalf("supplier cancel: %v", err)
	}
	if !order.Cancellation.RefundAmount.Equal(dec("5166")) || !order.Cancellation.DeductionAmount.IsZero() {
		t.Fatalf("supplier cancel refund = %+v, want full refund", order.Cancellation)
	}
}

func TestRecordPaymentRejectsCustomer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, ctx, domain.PaymentMethodCOD, "25").Orders[0].ID

	_, err := svc.RecordPayment(ctx, orderID, domain.RecordPaymentRequest{Proof: "utr-1"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("customers must not settle their own orders, got %v", err)
	}
}

func TestInvoiceReconciliation(t *testing.T) {
	svc, repo, clock := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-river-sands")

	// 10 tonnes of sand at 1450 with 7.5 percent commission:
	// subtotal 14500, commission 1087.50, gst 2610, total 18197.50.
	addItem(t, svc, custCtx, "prd-m-sand", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID
	clock.Advance(2 * time.Hour)

	for _, next := range []string{
		domain.OrderStatusConfirmed, domain.OrderStatusPreparing,
		domain.OrderStatusMaterialLoading, domain.OrderStatusProcessing,
	} {
		if _, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: next}); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	resp, err := svc.ReconcileInvoice(supCtx, orderID, domain.InvoiceUpdateRequest{
		Adjustments: []domain.LineAdjustment{{ProductID: "prd-m-sand", ActualQty: dec("8")}},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	p := resp.Order.Pricing
	if !p.Subtotal.Equal(dec("11600")) {
		t.Fatalf("subtotal = %s, want 11600", p.Subtotal)
	}
	if !p.Commission.Equal(dec("870")) {
		t.Fatalf("commission = %s, want 870", p.Commission)
	}
	if !p.GSTAmount.Equal(dec("2088")) {
		t.Fatalf("gst = %s, want 2088", p.GSTAmount)
	}
	if !p.TotalAmount.Equal(dec("14558")) {
		t.Fatalf("total = %s, want 14558", p.TotalAmount)
	}
	if !resp.Delta.Equal(dec("-3639.50")) {
		t.Fatalf("delta = %s, want -3639.50", resp.Delta)
	}

	// Two released tonnes go back to available.
	stock, _ := repo.GetStockMap(context.Background(), []string{"prd-m-sand"})
	if !stock["prd-m-sand"].Reserved.Equal(dec("8")) || !stock["prd-m-sand"].Available.Equal(dec("492")) {
		t.Fatalf("sand stock after reconciliation = %+v", stock["prd-m-sand"])
	}

	// The advance was the full original total, so nothing remains due.
	if !resp.Order.Payment.RemainingAmount.IsZero() {
		t.Fatalf("remaining = %s, want 0", resp.Order.Payment.RemainingAmount)
	}
}

func TestInvoiceReconciliationRejectsNonBulk(t *testing.T) {
	svc, _, clock := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-cement-house")

	addItem(t, svc, custCtx, "prd-opc53-bag", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID
	clock.Advance(2 * time.Hour)
	for _, next := range []string{
		domain.OrderStatusConfirmed, domain.OrderStatusPreparing,
		domain.OrderStatusMaterialLoading, domain.OrderStatusProcessing,
	} {
		if _, err := svc.TransitionStatus(supCtx, orderID, domain.TransitionRequest{Status: next}); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	_, err := svc.ReconcileInvoice(supCtx, orderID, domain.InvoiceUpdateRequest{
		Adjustments: []domain.LineAdjustment{{ProductID: "prd-opc53-bag", ActualQty: dec("8")}},
	})
	if !errors.Is(err, store.ErrLineNotAdjustable) {
		t.Fatalf("expected line not adjustable for cement, got %v", err)
	}
}

func TestInvoiceReconciliationOnlyInProcessing(t *testing.T) {
	svc, _, _ := newTestService(t)
	custCtx := customerCtx("cust-1")
	supCtx := supplierCtx("sup-river-sands")

	addItem(t, svc, custCtx, "prd-m-sand", "10")
	orderID := doCheckout(t, svc, custCtx, domain.PaymentMethodCOD, "25").Orders[0].ID

	_, err := svc.ReconcileInvoice(supCtx, orderID, domain.InvoiceUpdateRequest{
		Adjustments: []domain.LineAdjustment{{ProductID: "prd-m-sand", ActualQty: dec("8")}},
	})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition outside processing, got %v", err)
	}
}

func TestPromotionInvalidatedWhenCartShrinks(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := customerCtx("cust-1")

	promo, err := svc.CreatePromotion(adminCtx(), domain.PromotionCreateRequest{
		SupplierID:     "sup-cement-house",
		Name:           "monsoon cement deal",
		MinOrderAmount: dec("4000"),
		Amount:         dec("250"),
	})
	if err != nil {
		t.Fatalf("create promotion: %v", err)
	}

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	cart, err := svc.ApplyDiscount(ctx, domain.ApplyDiscountRequest{Kind: domain.DiscountKindPromotion, Reference: promo.ID})
	if err != nil {
		t.Fatalf("apply promotion: %v", err)
	}
	if len(cart.Discounts) != 1 {
		t.Fatalf("expected one discount, got %d", len(cart.Discounts))
	}
	if !cart.FinalAmount.Equal(cart.TotalAmount.Sub(dec("250"))) {
		t.Fatalf("final = %s, want total minus 250", cart.FinalAmount)
	}

	// Removing the cement line leaves nothing from the promotion's
	// supplier, which must shed the discount.
	cart, err = svc.UpdateItemQuantity(ctx, domain.UpdateQuantityRequest{ProductID: "prd-opc53-bag", Quantity: dec("0")})
	if err != nil {
		t.Fatalf("empty the cart: %v", err)
	}
	if len(cart.Discounts) != 0 {
		t.Fatalf("promotion should have been invalidated, got %+v", cart.Discounts)
	}
}

func TestValidateCartDropsRetiredProducts(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := customerCtx("cust-1")

	addItem(t, svc, ctx, "prd-opc53-bag", "10")
	addItem(t, svc, ctx, "prd-m-sand", "5")

	// Retire the cement from the catalog behind the cart's back.
	if err := repo.SetProductActive(context.Background(), "prd-opc53-bag", false); err != nil {
		t.Fatalf("retire product: %v", err)
	}

	violations, err := svc.ValidateCart(ctx)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %+v", violations)
	}
	cart, err := repo.GetCartByCustomer(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prd-m-sand" {
		t.Fatalf("retired line should be gone, cart = %+v", cart.Items)
	}
}
