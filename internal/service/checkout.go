package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/pricing"
	"nirmaan/backend/internal/store"
)

// Checkout splits the cart into one order per supplier. Each group is its
// own atomic unit: its stock reservation and order creation either both
// happen or neither does, and a failure in one group never rolls back an
// earlier group. Callers get the created orders plus the failures and
// must present partial success accurately.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if err := validateCheckoutRequest(req); err != nil {
		return domain.CheckoutResponse{}, err
	}

	cart, err := s.repo.GetCartByCustomer(ctx, actor.ID)
	if err != nil {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: cart is empty", store.ErrCartInvalid)
	}
	if len(cart.Items) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: cart is empty", store.ErrCartInvalid)
	}

	kept, violations, err := s.validateItems(ctx, cart.Items)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if len(kept) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: no orderable items remain", store.ErrCartInvalid)
	}
	if len(violations) > 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: %s", store.ErrCartInvalid, describeViolations(violations))
	}
	cart.Items = kept

	groupID := uuid.NewString()
	now := s.now().UTC()
	resp := domain.CheckoutResponse{
		CheckoutGroupID: groupID,
		Orders:          []domain.Order{},
		Failures:        []domain.CheckoutFailure{},
	}
	succeeded := map[string]bool{}

	for _, group := range GroupBySupplier(cart.Items) {
		order, failure := s.checkoutGroup(ctx, actor.ID, groupID, group, req, now)
		if failure != nil {
			resp.Failures = append(resp.Failures, *failure)
			continue
		}
		succeeded[group.SupplierID] = true
		resp.Orders = append(resp.Orders, *order)
		s.notify(ctx, domain.EventOrderCreated, *order)
	}

	if err := s.consumeCartItems(ctx, *cart, succeeded); err != nil {
		log.Printf("[service] WARN: failed to clear cart for %s after checkout: %v", actor.ID, err)
	}
	return resp, nil
}

// checkoutGroup reserves stock for one supplier group and persists the
// order. If order creation fails after a successful reservation, the
// reservation is released before reporting the failure.
func (s *Service) checkoutGroup(ctx context.Context, customerID, groupID string, group domain.SupplierGroup, req domain.CheckoutRequest, now time.Time) (*domain.Order, *domain.CheckoutFailure) {
	supplier, err := s.repo.GetSupplierByID(ctx, group.SupplierID)
	if err != nil {
		return nil, &domain.CheckoutFailure{SupplierID: group.SupplierID, Reason: "supplier no longer registered"}
	}

	reservation := make(map[string]decimal.Decimal, len(group.Items))
	for _, it := range group.Items {
		reservation[it.ProductID] = reservation[it.ProductID].Add(it.Quantity)
	}
	if err := s.repo.ReserveStock(ctx, reservation); err != nil {
		return nil, &domain.CheckoutFailure{
			SupplierID: group.SupplierID,
			ProductID:  firstShortProduct(err, group.Items),
			Reason:     err.Error(),
		}
	}

	lines := orderLinesFromItems(group.Items)
	quote := pricing.Quote(lines, supplier.CommissionRatePercent, req.PaymentMethod)
	advance, remaining, effectivePct := pricing.Split(quote.TotalAmount, req.AdvancePercentage, req.PaymentMethod)

	order := domain.Order{
		CheckoutGroupID: groupID,
		CustomerID:      customerID,
		SupplierID:      group.SupplierID,
		Lines:           lines,
		Pricing:         quote,
		Payment: domain.Payment{
			Method:            req.PaymentMethod,
			Status:            domain.PaymentStatusPending,
			AdvancePercentage: effectivePct,
			AdvanceAmount:     advance,
			RemainingAmount:   remaining,
		},
		DeliveryAddress: req.DeliveryAddress,
		CoolingPeriod: domain.CoolingPeriod{
			StartTime: now,
			EndTime:   now.Add(s.coolingPeriod),
		},
		Status: domain.OrderStatusPending,
		Timeline: []domain.TimelineEntry{{
			Status:    domain.OrderStatusPending,
			Note:      "order placed",
			Actor:     customerID,
			ActorRole: domain.RoleCustomer,
			At:        now,
		}},
		CreatedAt: now,
	}

	if s.gateway != nil && req.PaymentMethod != domain.PaymentMethodCOD {
		ref, err := s.gateway.CreateSession(ctx, groupID, advance, req.PaymentMethod)
		if err != nil {
			s.releaseReservation(ctx, reservation, "checkout gateway failure")
			return nil, &domain.CheckoutFailure{SupplierID: group.SupplierID, Reason: "payment session could not be opened"}
		}
		order.Payment.GatewaySessionRef = ref
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		s.releaseReservation(ctx, reservation, "checkout persistence failure")
		return nil, &domain.CheckoutFailure{SupplierID: group.SupplierID, Reason: "order could not be persisted"}
	}
	log.Printf("[service] order created id=%s supplier=%s total=%s", created.ID, created.SupplierID, created.Pricing.TotalAmount)
	return created, nil
}

func (s *Service) releaseReservation(ctx context.Context, reservation map[string]decimal.Decimal, cause string) {
	if err := s.repo.ReleaseStock(ctx, reservation); err != nil {
		log.Printf("[service] ERROR: stock release after %s failed: %v", cause, err)
	}
}

// consumeCartItems removes the lines that became orders. Items from a
// failed group stay in the cart so the customer can retry; a fully
// successful checkout deletes the cart.
func (s *Service) consumeCartItems(ctx context.Context, cart domain.Cart, succeeded map[string]bool) error {
	remaining := cart.Items[:0:0]
	for _, it := range cart.Items {
		if !succeeded[it.SupplierID] {
			remaining = append(remaining, it)
		}
	}
	if len(remaining) == 0 {
		return s.repo.DeleteCart(ctx, cart.CustomerID)
	}
	cart.Items = remaining
	_, err := s.saveWithTotals(ctx, cart)
	return err
}

func validateCheckoutRequest(req domain.CheckoutRequest) error {
	if !pricing.ValidPaymentMethod(req.PaymentMethod) {
		return fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	if !pricing.ValidAdvancePercent(req.AdvancePercentage, req.PaymentMethod) {
		return fmt.Errorf("%w: advance percentage must be between %s and %s",
			store.ErrValidation, pricing.MinAdvancePercent, pricing.MaxAdvancePercent)
	}
	addr := req.DeliveryAddress
	if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" ||
		strings.TrimSpace(addr.Pincode) == "" || strings.TrimSpace(addr.Phone) == "" {
		return fmt.Errorf("%w: delivery address needs line1, city, pincode and phone", store.ErrValidation)
	}
	return nil
}

func describeViolations(violations []domain.CartViolation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.ProductID, v.Reason))
	}
	return strings.Join(parts, "; ")
}

// firstShortProduct picks the product to surface in a reservation
// failure: the one named in the error if present, else the first line.
func firstShortProduct(err error, items []domain.CartItem) string {
	msg := err.Error()
	for _, it := range items {
		if strings.Contains(msg, it.ProductID) {
			return it.ProductID
		}
	}
	if len(items) > 0 {
		return items[0].ProductID
	}
	return ""
}
