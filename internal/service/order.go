package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/pricing"
	"nirmaan/backend/internal/store"
	"nirmaan/backend/internal/xid"
)

// forwardTransitions is the fixed table of allowed forward moves. The
// delivered state is reachable only through CompleteDelivery, and
// cancelled only through Cancel.
var forwardTransitions = map[string]string{
	domain.OrderStatusPending:         domain.OrderStatusConfirmed,
	domain.OrderStatusConfirmed:       domain.OrderStatusPreparing,
	domain.OrderStatusPreparing:       domain.OrderStatusMaterialLoading,
	domain.OrderStatusMaterialLoading: domain.OrderStatusProcessing,
	domain.OrderStatusProcessing:      domain.OrderStatusDispatched,
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !canViewOrder(actor, *order) {
		return domain.Order{}, store.ErrNotFound
	}
	return *order, nil
}

func canViewOrder(actor domain.Actor, order domain.Order) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleAgent:
		return true
	case domain.RoleCustomer:
		return order.CustomerID == actor.ID
	case domain.RoleSupplier:
		return order.SupplierID == actor.ID
	}
	return false
}

func (s *Service) ListMyOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListOrdersByCustomer(ctx, actor.ID, limit)
}

func (s *Service) ListSupplierOrders(ctx context.Context, supplierID string, status string, limit int) ([]domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	if actor.Role == domain.RoleSupplier {
		supplierID = actor.ID
	} else if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleAgent {
		return nil, fmt.Errorf("%w: supplier, agent or admin role required", store.ErrValidation)
	}
	return s.repo.ListOrdersBySupplier(ctx, supplierID, status, limit)
}

func (s *Service) ListCheckoutGroup(ctx context.Context, checkoutGroupID string) ([]domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	orders, err := s.repo.ListOrdersByCheckoutGroup(ctx, checkoutGroupID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if canViewOrder(actor, o) {
			visible = append(visible, o)
		}
	}
	return visible, nil
}

// TransitionStatus advances an order one step along the forward table.
// Moving to dispatched mints the delivery code, returned in plaintext
// exactly once; only its hash is stored. The write is conditional on the
// status still being the one we read, so racing actors cannot both win.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, req domain.TransitionRequest) (domain.TransitionResponse, error) {
	actor, err := s.fulfilmentActor(ctx)
	if err != nil {
		return domain.TransitionResponse{}, err
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.TransitionResponse{}, err
	}
	if actor.Role == domain.RoleSupplier && order.SupplierID != actor.ID {
		return domain.TransitionResponse{}, store.ErrNotFound
	}

	switch req.Status {
	case domain.OrderStatusCancelled:
		return domain.TransitionResponse{}, fmt.Errorf("%w: use the cancellation endpoint", store.ErrInvalidTransition)
	case domain.OrderStatusDelivered:
		return domain.TransitionResponse{}, fmt.Errorf("%w: delivery requires the customer otp", store.ErrInvalidTransition)
	}

	next, ok := forwardTransitions[order.Status]
	if !ok {
		return domain.TransitionResponse{}, fmt.Errorf("%w: %s is terminal or awaits delivery confirmation",
			store.ErrInvalidTransition, order.Status)
	}
	if req.Status != next {
		return domain.TransitionResponse{}, fmt.Errorf("%w: from %s the only allowed next status is %s",
			store.ErrInvalidTransition, order.Status, next)
	}

	now := s.now().UTC()
	if actor.Role == domain.RoleSupplier && order.CoolingPeriod.ActiveAt(now) &&
		(next == domain.OrderStatusProcessing || next == domain.OrderStatusDispatched) {
		return domain.TransitionResponse{}, fmt.Errorf("%w: cooling period active until %s",
			store.ErrInvalidTransition, order.CoolingPeriod.EndTime.Format("15:04:05 MST"))
	}

	prevStatus := order.Status
	order.Status = next
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status:    next,
		Note:      strings.TrimSpace(req.Note),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        now,
	})

	var plainOTP string
	if next == domain.OrderStatusDispatched {
		plainOTP = xid.OTP()
		hash, err := bcrypt.GenerateFromPassword([]byte(plainOTP), bcrypt.DefaultCost)
		if err != nil {
			return domain.TransitionResponse{}, fmt.Errorf("mint delivery otp: %w", err)
		}
		order.DeliveryOTPHash = string(hash)
	}

	updated, err := s.repo.UpdateOrder(ctx, *order, prevStatus)
	if err != nil {
		return domain.TransitionResponse{}, err
	}
	log.Printf("[service] order %s moved %s -> %s by %s", orderID, prevStatus, next, actor.ID)
	s.notify(ctx, domain.EventOrderStatus, *updated)
	return domain.TransitionResponse{Order: *updated, DeliveryOTP: plainOTP}, nil
}

func (s *Service) fulfilmentActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	switch actor.Role {
	case domain.RoleSupplier, domain.RoleAgent, domain.RoleAdmin:
		return actor, nil
	}
	return domain.Actor{}, fmt.Errorf("%w: supplier, agent or admin role required", store.ErrValidation)
}

// CompleteDelivery closes out a dispatched order once the caller proves
// possession of the customer's delivery code. Reserved stock becomes
// sold, and cash on delivery settles the remaining amount.
func (s *Service) CompleteDelivery(ctx context.Context, orderID string, req domain.CompleteDeliveryRequest) (domain.Order, error) {
	actor, err := s.fulfilmentActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if actor.Role == domain.RoleSupplier && order.SupplierID != actor.ID {
		return domain.Order{}, store.ErrNotFound
	}
	if order.Status != domain.OrderStatusDispatched {
		return domain.Order{}, fmt.Errorf("%w: order is %s, delivery completes only from dispatched",
			store.ErrInvalidTransition, order.Status)
	}

	otp := strings.TrimSpace(req.OTP)
	if otp == "" || bcrypt.CompareHashAndPassword([]byte(order.DeliveryOTPHash), []byte(otp)) != nil {
		return domain.Order{}, store.ErrOTPMismatch
	}

	// Record the terminal state before touching the ledger; a CAS miss
	// after a conversion would let a retry drain reserved twice.
	alreadyConverted := order.StockReleased
	order.StockReleased = true

	now := s.now().UTC()
	order.Status = domain.OrderStatusDelivered
	order.Payment.Status = domain.PaymentStatusPaid
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status:    domain.OrderStatusDelivered,
		Note:      "delivery confirmed with customer otp",
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        now,
	})

	updated, err := s.repo.UpdateOrder(ctx, *order, domain.OrderStatusDispatched)
	if err != nil {
		return domain.Order{}, err
	}
	if !alreadyConverted {
		if err := s.repo.ConvertReservedToSold(ctx, reservedQuantities(*updated)); err != nil {
			log.Printf("[service] ERROR: reserved-to-sold conversion for order %s failed: %v", orderID, err)
		}
	}
	s.notify(ctx, domain.EventOrderDelivered, *updated)
	return *updated, nil
}

// Cancel terminates an order and releases its reservation exactly once.
// Customers may cancel only inside the cooling window and receive the
// time-decay refund; suppliers and admins may cancel any non-terminal
// order with a full refund of whatever was paid.
func (s *Service) Cancel(ctx context.Context, orderID string, req domain.CancelRequest) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !canViewOrder(actor, *order) {
		return domain.Order{}, store.ErrNotFound
	}
	switch order.Status {
	case domain.OrderStatusDelivered:
		return domain.Order{}, fmt.Errorf("%w: delivered orders cannot be cancelled", store.ErrInvalidTransition)
	case domain.OrderStatusCancelled:
		// Cancelling twice is a no-op; stock was released the first time.
		return *order, nil
	}

	now := s.now().UTC()
	amountPaid := decimal.Zero
	if order.Payment.Status == domain.PaymentStatusPaid {
		amountPaid = order.Payment.AdvanceAmount
	}

	var refund domain.RefundBreakdown
	if actor.Role == domain.RoleCustomer {
		if !order.CoolingPeriod.ActiveAt(now) {
			return domain.Order{}, store.ErrCoolingPeriodExpired
		}
		refund = pricing.Refund(amountPaid, elapsedFraction(order.CoolingPeriod, now), s.refundBands)
	} else {
		refund = domain.RefundBreakdown{
			AmountPaid:      amountPaid,
			RefundAmount:    amountPaid,
			DeductionAmount: decimal.Zero,
			RefundPercent:   decimal.NewFromInt(100),
		}
	}

	// The CAS write must land before the ledger moves. Releasing first
	// and losing the race would leave the release unrecorded, and the
	// caller's retry would credit the same reservation twice.
	alreadyReleased := order.StockReleased
	prevStatus := order.Status
	order.StockReleased = true
	order.Status = domain.OrderStatusCancelled
	if refund.RefundAmount.IsPositive() {
		order.Payment.Status = domain.PaymentStatusRefunded
	}
	order.Cancellation = &domain.Cancellation{
		Reason:          strings.TrimSpace(req.Reason),
		CancelledBy:     actor.ID,
		CancelledRole:   actor.Role,
		AmountPaid:      refund.AmountPaid,
		RefundAmount:    refund.RefundAmount,
		DeductionAmount: refund.DeductionAmount,
		CancelledAt:     now,
	}
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status:    domain.OrderStatusCancelled,
		Note:      fmt.Sprintf("cancelled: %s (refund %s, deduction %s)", req.Reason, refund.RefundAmount, refund.DeductionAmount),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        now,
	})

	updated, err := s.repo.UpdateOrder(ctx, *order, prevStatus)
	if err != nil {
		return domain.Order{}, err
	}
	if !alreadyReleased {
		s.releaseReservation(ctx, reservedQuantities(*updated), "cancellation")
	}
	log.Printf("[service] order %s cancelled by %s refund=%s", orderID, actor.ID, refund.RefundAmount)
	s.notify(ctx, domain.EventOrderCancelled, *updated)
	return *updated, nil
}

// ReconcileInvoice trues up bulk lines to actually delivered quantities
// while the order is in processing. The whole pricing block is rebuilt
// from the adjusted lines; nothing is patched incrementally.
func (s *Service) ReconcileInvoice(ctx context.Context, orderID string, req domain.InvoiceUpdateRequest) (domain.InvoiceUpdateResponse, error) {
	actor, err := s.fulfilmentActor(ctx)
	if err != nil {
		return domain.InvoiceUpdateResponse{}, err
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.InvoiceUpdateResponse{}, err
	}
	if actor.Role == domain.RoleSupplier && order.SupplierID != actor.ID {
		return domain.InvoiceUpdateResponse{}, store.ErrNotFound
	}
	if order.Status != domain.OrderStatusProcessing {
		return domain.InvoiceUpdateResponse{}, fmt.Errorf("%w: invoice reconciliation is only allowed in processing",
			store.ErrInvalidTransition)
	}
	if len(req.Adjustments) == 0 {
		return domain.InvoiceUpdateResponse{}, fmt.Errorf("%w: no adjustments supplied", store.ErrValidation)
	}

	oldTotal := order.Pricing.TotalAmount
	reserveMore := map[string]decimal.Decimal{}
	releaseBack := map[string]decimal.Decimal{}
	adjusted := []string{}

	for _, adj := range req.Adjustments {
		idx := -1
		for i, line := range order.Lines {
			if line.ProductID == adj.ProductID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return domain.InvoiceUpdateResponse{}, fmt.Errorf("%w: product %s not on this order", store.ErrNotFound, adj.ProductID)
		}
		line := order.Lines[idx]
		if !s.bulkCategories[strings.ToLower(line.Category)] {
			return domain.InvoiceUpdateResponse{}, fmt.Errorf("%w: category %q is not a measured bulk category",
				store.ErrLineNotAdjustable, line.Category)
		}
		if adj.ActualQty.IsNegative() {
			return domain.InvoiceUpdateResponse{}, fmt.Errorf("%w: actual quantity cannot be negative", store.ErrValidation)
		}

		prevQty := line.OrderedQty
		if line.ActualDelivered != nil {
			prevQty = *line.ActualDelivered
		}
		switch {
		case adj.ActualQty.GreaterThan(prevQty):
			reserveMore[line.ProductID] = adj.ActualQty.Sub(prevQty)
		case adj.ActualQty.LessThan(prevQty):
			releaseBack[line.ProductID] = prevQty.Sub(adj.ActualQty)
		}

		actual := adj.ActualQty
		order.Lines[idx].ActualDelivered = &actual
		order.Lines[idx].LineTotal = pricing.LineTotal(actual, line.UnitPrice)
		adjusted = append(adjusted, line.ProductID)
	}

	// Reserve the extra quantity first so a shortfall aborts before any
	// state has changed. The downward release waits until the CAS write
	// lands, so a lost race never leaves an unrecorded release behind.
	if len(reserveMore) > 0 {
		if err := s.repo.ReserveStock(ctx, reserveMore); err != nil {
			return domain.InvoiceUpdateResponse{}, err
		}
	}

	order.Pricing = pricing.Quote(order.Lines, order.Pricing.CommissionRatePercent, order.Payment.Method)
	// The advance already charged stays as is; only the remainder moves.
	order.Payment.RemainingAmount = order.Pricing.TotalAmount.Sub(order.Payment.AdvanceAmount)
	if order.Payment.RemainingAmount.IsNegative() {
		order.Payment.RemainingAmount = decimal.Zero
	}

	now := s.now().UTC()
	delta := order.Pricing.TotalAmount.Sub(oldTotal)
	order.Invoice = &domain.Invoice{
		AdjustedLines: adjusted,
		Delta:         delta,
		ReconciledBy:  actor.ID,
		ReconciledAt:  now,
	}
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status:    order.Status,
		Note:      fmt.Sprintf("invoice reconciled, total changed by %s", delta),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        now,
	})

	updated, err := s.repo.UpdateOrder(ctx, *order, domain.OrderStatusProcessing)
	if err != nil {
		if len(reserveMore) > 0 {
			s.releaseReservation(ctx, reserveMore, "reconciliation conflict")
		}
		return domain.InvoiceUpdateResponse{}, err
	}
	if len(releaseBack) > 0 {
		s.releaseReservation(ctx, releaseBack, "invoice reconciliation")
	}
	s.notify(ctx, domain.EventInvoiceAdjusted, *updated)
	return domain.InvoiceUpdateResponse{Order: *updated, Delta: delta}, nil
}

// RecordPayment marks the advance as settled, with an operator-supplied
// proof reference (gateway receipt, bank UTR). Customers never settle
// their own orders; an operator verifies the proof out of band first.
func (s *Service) RecordPayment(ctx context.Context, orderID string, req domain.RecordPaymentRequest) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleAgent) {
		return domain.Order{}, fmt.Errorf("%w: admin or agent role required", store.ErrValidation)
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, fmt.Errorf("%w: order is cancelled", store.ErrInvalidTransition)
	}
	if order.Payment.Status == domain.PaymentStatusPaid {
		return *order, nil
	}

	order.Payment.Status = domain.PaymentStatusPaid
	order.Payment.Proof = strings.TrimSpace(req.Proof)
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status:    order.Status,
		Note:      "advance payment recorded",
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        s.now().UTC(),
	})
	updated, err := s.repo.UpdateOrder(ctx, *order, order.Status)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

// UpdateOrderMeta lets the customer change the delivery address or notes
// while the cooling window is open.
func (s *Service) UpdateOrderMeta(ctx context.Context, orderID string, addr *domain.DeliveryAddress, notes *string) (domain.Order, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.CustomerID != actor.ID {
		return domain.Order{}, store.ErrNotFound
	}
	switch order.Status {
	case domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return domain.Order{}, fmt.Errorf("%w: order is %s", store.ErrInvalidTransition, order.Status)
	}
	if !order.CoolingPeriod.ActiveAt(s.now().UTC()) {
		return domain.Order{}, store.ErrCoolingPeriodExpired
	}
	if addr == nil && notes == nil {
		return domain.Order{}, fmt.Errorf("%w: nothing to update", store.ErrValidation)
	}

	if addr != nil {
		if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.Pincode) == "" {
			return domain.Order{}, fmt.Errorf("%w: address needs line1 and pincode", store.ErrValidation)
		}
		order.DeliveryAddress = *addr
	}
	if notes != nil {
		order.Notes = strings.TrimSpace(*notes)
	}
	order.Timeline = append(order.Timeline, domain.TimelineEntry{
		Status:    order.Status,
		Note:      "delivery details updated by customer",
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        s.now().UTC(),
	})
	updated, err := s.repo.UpdateOrder(ctx, *order, order.Status)
	if err != nil {
		return domain.Order{}, err
	}
	return *updated, nil
}

// reservedQuantities is what the ledger currently holds for this order:
// the reconciled quantity where one exists, otherwise the ordered one.
func reservedQuantities(order domain.Order) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(order.Lines))
	for _, line := range order.Lines {
		qty := line.OrderedQty
		if line.ActualDelivered != nil {
			qty = *line.ActualDelivered
		}
		if qty.IsPositive() {
			out[line.ProductID] = out[line.ProductID].Add(qty)
		}
	}
	return out
}

func elapsedFraction(window domain.CoolingPeriod, now time.Time) decimal.Decimal {
	total := window.EndTime.Sub(window.StartTime)
	if total <= 0 {
		return decimal.NewFromInt(1)
	}
	elapsed := now.Sub(window.StartTime)
	return decimal.NewFromFloat(elapsed.Seconds() / total.Seconds())
}
