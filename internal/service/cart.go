package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/pricing"
	"nirmaan/backend/internal/store"
)

// minQuantity is the smallest orderable quantity for any product.
var minQuantity = decimal.NewFromFloat(0.1)

func (s *Service) customerFromContext(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	if actor.Role != domain.RoleCustomer {
		return domain.Actor{}, fmt.Errorf("%w: customer role required", store.ErrValidation)
	}
	return actor, nil
}

func (s *Service) GetCart(ctx context.Context) (domain.Cart, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.repo.GetCartByCustomer(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Cart{CustomerID: actor.ID, Items: []domain.CartItem{}}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

func (s *Service) AddItem(ctx context.Context, req domain.AddItemRequest) (domain.Cart, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	if req.Quantity.LessThan(minQuantity) {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be at least %s", store.ErrValidation, minQuantity)
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Cart{}, err
	}
	if !product.Active || !product.Approved {
		return domain.Cart{}, fmt.Errorf("%w: product %s is not orderable", store.ErrCartInvalid, product.ID)
	}

	cart, err := s.loadOrNewCart(ctx, actor.ID)
	if err != nil {
		return domain.Cart{}, err
	}

	idx := slices.IndexFunc(cart.Items, func(it domain.CartItem) bool {
		return it.ProductID == req.ProductID
	})
	newQty := req.Quantity
	if idx >= 0 {
		newQty = cart.Items[idx].Quantity.Add(req.Quantity)
	}
	if err := s.checkLineQuantity(ctx, *product, newQty); err != nil {
		return domain.Cart{}, err
	}
	if idx >= 0 {
		// Same product again merges into the existing line.
		cart.Items[idx].Quantity = newQty
		if req.Requirements != "" {
			cart.Items[idx].Requirements = req.Requirements
		}
	} else {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:         product.ID,
			SupplierID:        product.SupplierID,
			ProductName:       product.Name,
			Category:          product.Category,
			Unit:              product.Unit,
			Quantity:          req.Quantity,
			UnitPriceSnapshot: product.UnitPrice,
			Requirements:      strings.TrimSpace(req.Requirements),
			AddedAt:           s.now().UTC(),
		})
	}

	return s.saveWithTotals(ctx, cart)
}

func (s *Service) UpdateItemQuantity(ctx context.Context, req domain.UpdateQuantityRequest) (domain.Cart, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.repo.GetCartByCustomer(ctx, actor.ID)
	if err != nil {
		return domain.Cart{}, err
	}

	idx := slices.IndexFunc(cart.Items, func(it domain.CartItem) bool {
		return it.ProductID == req.ProductID
	})
	if idx < 0 {
		return domain.Cart{}, fmt.Errorf("%w: product %s not in cart", store.ErrNotFound, req.ProductID)
	}
	if req.Quantity.IsZero() {
		// Quantity zero removes the line.
		cart.Items = slices.Delete(cart.Items, idx, idx+1)
		return s.saveWithTotals(ctx, *cart)
	}
	if req.Quantity.LessThan(minQuantity) {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be at least %s", store.ErrValidation, minQuantity)
	}
	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := s.checkLineQuantity(ctx, *product, req.Quantity); err != nil {
		return domain.Cart{}, err
	}
	cart.Items[idx].Quantity = req.Quantity
	return s.saveWithTotals(ctx, *cart)
}

// checkLineQuantity enforces the product minimum and the advisory stock
// ceiling. Stock is only a soft check here; the binding check is the
// atomic reservation at checkout.
func (s *Service) checkLineQuantity(ctx context.Context, product domain.Product, qty decimal.Decimal) error {
	if qty.LessThan(product.MinOrderQty) {
		return fmt.Errorf("%w: minimum order for %s is %s %s",
			store.ErrValidation, product.Name, product.MinOrderQty, product.Unit)
	}
	stock, err := s.repo.GetStockMap(ctx, []string{product.ID})
	if err != nil {
		return err
	}
	if rec, ok := stock[product.ID]; ok && rec.Available.LessThan(qty) {
		return fmt.Errorf("%w: only %s %s of %s in stock",
			store.ErrInsufficientStock, rec.Available, product.Unit, product.Name)
	}
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, productID string) (domain.Cart, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.repo.GetCartByCustomer(ctx, actor.ID)
	if err != nil {
		return domain.Cart{}, err
	}
	idx := slices.IndexFunc(cart.Items, func(it domain.CartItem) bool {
		return it.ProductID == productID
	})
	if idx < 0 {
		return domain.Cart{}, fmt.Errorf("%w: product %s not in cart", store.ErrNotFound, productID)
	}
	cart.Items = slices.Delete(cart.Items, idx, idx+1)
	return s.saveWithTotals(ctx, *cart)
}

func (s *Service) ClearCart(ctx context.Context) error {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return err
	}
	return s.repo.DeleteCart(ctx, actor.ID)
}

func (s *Service) ApplyDiscount(ctx context.Context, req domain.ApplyDiscountRequest) (domain.Cart, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	switch req.Kind {
	case domain.DiscountKindCoupon, domain.DiscountKindCoins, domain.DiscountKindPromotion:
	default:
		return domain.Cart{}, fmt.Errorf("%w: unknown discount kind %q", store.ErrValidation, req.Kind)
	}

	cart, err := s.repo.GetCartByCustomer(ctx, actor.ID)
	if err != nil {
		return domain.Cart{}, err
	}
	if len(cart.Items) == 0 {
		return domain.Cart{}, fmt.Errorf("%w: cannot discount an empty cart", store.ErrCartInvalid)
	}

	resolver, ok := s.resolvers[req.Kind]
	if !ok {
		return domain.Cart{}, fmt.Errorf("%w: discount kind %q is not available", store.ErrValidation, req.Kind)
	}
	amount, err := resolver.Resolve(ctx, req.Reference, *cart)
	if err != nil {
		return domain.Cart{}, err
	}
	if amount.IsNegative() {
		return domain.Cart{}, fmt.Errorf("%w: resolver returned negative amount", store.ErrInvariantViolation)
	}

	// One discount per kind; a second apply replaces the first.
	cart.Discounts = slices.DeleteFunc(cart.Discounts, func(d domain.CartDiscount) bool {
		return d.Kind == req.Kind
	})
	cart.Discounts = append(cart.Discounts, domain.CartDiscount{
		Kind:      req.Kind,
		Reference: req.Reference,
		Amount:    amount,
	})
	return s.saveWithTotals(ctx, *cart)
}

func (s *Service) RemoveDiscount(ctx context.Context, kind string) (domain.Cart, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.repo.GetCartByCustomer(ctx, actor.ID)
	if err != nil {
		return domain.Cart{}, err
	}
	before := len(cart.Discounts)
	cart.Discounts = slices.DeleteFunc(cart.Discounts, func(d domain.CartDiscount) bool {
		return d.Kind == kind
	})
	if len(cart.Discounts) == before {
		return domain.Cart{}, fmt.Errorf("%w: no %s discount applied", store.ErrNotFound, kind)
	}
	return s.saveWithTotals(ctx, *cart)
}

// ValidateCart drops lines whose product is no longer active or
// approved, persisting the removal, and reports stock or minimum-order
// violations without touching quantities. The caller decides whether a
// violation blocks checkout.
func (s *Service) ValidateCart(ctx context.Context) ([]domain.CartViolation, error) {
	actor, err := s.customerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	cart, err := s.repo.GetCartByCustomer(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return []domain.CartViolation{}, nil
	}
	if err != nil {
		return nil, err
	}

	kept, violations, err := s.validateItems(ctx, cart.Items)
	if err != nil {
		return nil, err
	}
	if len(kept) != len(cart.Items) {
		cart.Items = kept
		if _, err := s.saveWithTotals(ctx, *cart); err != nil {
			return nil, err
		}
	}
	return violations, nil
}

// validateItems returns the lines whose product is still sellable plus
// the quantity violations on those lines.
func (s *Service) validateItems(ctx context.Context, items []domain.CartItem) ([]domain.CartItem, []domain.CartViolation, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	stock, err := s.repo.GetStockMap(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	kept := make([]domain.CartItem, 0, len(items))
	violations := []domain.CartViolation{}
	for _, it := range items {
		product, ok := products[it.ProductID]
		if !ok || !product.Active || !product.Approved {
			continue
		}
		kept = append(kept, it)
		if it.Quantity.LessThan(product.MinOrderQty) {
			violations = append(violations, domain.CartViolation{
				ProductID: it.ProductID,
				Reason:    fmt.Sprintf("quantity below minimum order of %s %s", product.MinOrderQty, product.Unit),
			})
		}
		if rec, ok := stock[it.ProductID]; ok && rec.Available.LessThan(it.Quantity) {
			violations = append(violations, domain.CartViolation{
				ProductID: it.ProductID,
				Reason:    fmt.Sprintf("only %s %s in stock", rec.Available, product.Unit),
			})
		}
	}
	return kept, violations, nil
}

// GroupBySupplier partitions the cart items by supplier, preserving the
// order in which each supplier first appeared.
func GroupBySupplier(items []domain.CartItem) []domain.SupplierGroup {
	index := map[string]int{}
	groups := []domain.SupplierGroup{}
	for _, it := range items {
		i, ok := index[it.SupplierID]
		if !ok {
			i = len(groups)
			index[it.SupplierID] = i
			groups = append(groups, domain.SupplierGroup{SupplierID: it.SupplierID})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

func (s *Service) loadOrNewCart(ctx context.Context, customerID string) (domain.Cart, error) {
	cart, err := s.repo.GetCartByCustomer(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Cart{CustomerID: customerID}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

// saveWithTotals re-derives the cart's pricing fields and persists it.
// Cart-level commission uses each supplier's own rate, summed across the
// per-supplier groups, matching what checkout will charge.
func (s *Service) saveWithTotals(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	subtotal := decimal.Zero
	commission := decimal.Zero
	total := decimal.Zero
	for _, group := range GroupBySupplier(cart.Items) {
		supplier, err := s.repo.GetSupplierByID(ctx, group.SupplierID)
		if err != nil {
			return domain.Cart{}, err
		}
		lines := orderLinesFromItems(group.Items)
		// Gateway charges depend on the payment method chosen at
		// checkout, so the cart preview prices as cash on delivery.
		p := pricing.Quote(lines, supplier.CommissionRatePercent, domain.PaymentMethodCOD)
		subtotal = subtotal.Add(p.Subtotal)
		commission = commission.Add(p.Commission)
		total = total.Add(p.TotalAmount)
	}
	cart.Subtotal = subtotal
	cart.Commission = commission
	cart.TotalAmount = total
	if err := s.revalidatePromotion(ctx, &cart); err != nil {
		return domain.Cart{}, err
	}
	cart.FinalAmount = pricing.ApplyDiscounts(total, cart.Discounts)

	saved, err := s.repo.SaveCart(ctx, cart)
	if err != nil {
		return domain.Cart{}, err
	}
	return *saved, nil
}

// revalidatePromotion drops an applied supplier promotion once the cart
// stops qualifying: the promotion disappeared, no item from its supplier
// remains, or the subtotal fell under its minimum. Coupon and coins are
// owned by their external collaborators and are left alone here.
func (s *Service) revalidatePromotion(ctx context.Context, cart *domain.Cart) error {
	idx := slices.IndexFunc(cart.Discounts, func(d domain.CartDiscount) bool {
		return d.Kind == domain.DiscountKindPromotion
	})
	if idx < 0 {
		return nil
	}

	promos, err := s.repo.ListPromotions(ctx, "", true)
	if err != nil {
		return err
	}
	ref := cart.Discounts[idx].Reference
	valid := false
	for _, p := range promos {
		if p.ID != ref {
			continue
		}
		hasSupplierItem := slices.ContainsFunc(cart.Items, func(it domain.CartItem) bool {
			return it.SupplierID == p.SupplierID
		})
		valid = hasSupplierItem && cart.Subtotal.GreaterThanOrEqual(p.MinOrderAmount)
		break
	}
	if !valid {
		cart.Discounts = slices.Delete(cart.Discounts, idx, idx+1)
	}
	return nil
}

func orderLinesFromItems(items []domain.CartItem) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.OrderLine{
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			Category:     it.Category,
			Unit:         it.Unit,
			OrderedQty:   it.Quantity,
			UnitPrice:    it.UnitPriceSnapshot,
			LineTotal:    pricing.LineTotal(it.Quantity, it.UnitPriceSnapshot),
			Requirements: it.Requirements,
		})
	}
	return lines
}
