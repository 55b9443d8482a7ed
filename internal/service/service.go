package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/pricing"
	"nirmaan/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Notifier publishes order lifecycle events to interested consumers.
// Publishing is best effort; a failed publish never fails the operation.
type Notifier interface {
	Publish(ctx context.Context, event OrderEvent)
}

type OrderEvent struct {
	Kind       string    `json:"kind"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	SupplierID string    `json:"supplier_id"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, OrderEvent) {}

// DiscountResolver validates a discount descriptor against the current
// cart and returns the authorized amount. Coupon and coins resolution
// live outside this backend; implementations here wrap those services.
type DiscountResolver interface {
	Resolve(ctx context.Context, reference string, cart domain.Cart) (decimal.Decimal, error)
}

// PaymentGateway opens a payment session for the advance amount and
// returns an opaque session reference for the client to complete.
type PaymentGateway interface {
	CreateSession(ctx context.Context, orderID string, amount decimal.Decimal, method string) (string, error)
}

type Options struct {
	CoolingPeriod  time.Duration
	BulkCategories []string
	RefundBands    []pricing.RefundBand
	Notifier       Notifier
	Gateway        PaymentGateway
	Resolvers      map[string]DiscountResolver
	Now            func() time.Time
}

type Service struct {
	repo           store.Repository
	notifier       Notifier
	gateway        PaymentGateway
	resolvers      map[string]DiscountResolver
	coolingPeriod  time.Duration
	bulkCategories map[string]bool
	refundBands    []pricing.RefundBand
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.CoolingPeriod <= 0 {
		opts.CoolingPeriod = time.Hour
	}
	if len(opts.RefundBands) == 0 {
		opts.RefundBands = pricing.DefaultRefundBands()
	}
	if opts.Notifier == nil {
		opts.Notifier = NoopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	bulk := make(map[string]bool, len(opts.BulkCategories))
	for _, c := range opts.BulkCategories {
		bulk[strings.ToLower(strings.TrimSpace(c))] = true
	}

	s := &Service{
		repo:           repo,
		notifier:       opts.Notifier,
		gateway:        opts.Gateway,
		resolvers:      opts.Resolvers,
		coolingPeriod:  opts.CoolingPeriod,
		bulkCategories: bulk,
		refundBands:    opts.RefundBands,
		now:            opts.Now,
	}
	if s.resolvers == nil {
		s.resolvers = map[string]DiscountResolver{}
	}
	if _, ok := s.resolvers[domain.DiscountKindPromotion]; !ok {
		s.resolvers[domain.DiscountKindPromotion] = promotionResolver{repo: repo}
	}
	return s
}

func (s *Service) ListProducts(ctx context.Context, supplierID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, supplierID)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, product domain.Product, initialStock decimal.Decimal) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSupplier) {
		return domain.Product{}, fmt.Errorf("%w: admin or supplier role required", store.ErrValidation)
	}
	if actor.Role == domain.RoleSupplier {
		product.SupplierID = actor.ID
		product.Approved = false
	} else {
		product.Approved = true
	}

	product.Name = strings.TrimSpace(product.Name)
	product.Category = strings.ToLower(strings.TrimSpace(product.Category))
	product.Unit = strings.TrimSpace(product.Unit)
	if product.Name == "" || product.Category == "" || product.Unit == "" {
		return domain.Product{}, fmt.Errorf("%w: name, category and unit are required", store.ErrValidation)
	}
	if !product.UnitPrice.IsPositive() {
		return domain.Product{}, fmt.Errorf("%w: unit price must be positive", store.ErrValidation)
	}
	if initialStock.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: initial stock cannot be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, product, initialStock)
	if err != nil {
		return domain.Product{}, err
	}
	log.Printf("[service] product created id=%s supplier=%s stock=%s", created.ID, created.SupplierID, initialStock)
	return *created, nil
}

func (s *Service) SetProductActive(ctx context.Context, productID string, active bool) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleSupplier:
		if product.SupplierID != actor.ID {
			return fmt.Errorf("%w: product belongs to another supplier", store.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: admin or supplier role required", store.ErrValidation)
	}
	return s.repo.SetProductActive(ctx, productID, active)
}

func (s *Service) SetStock(ctx context.Context, productID string, available decimal.Decimal) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: authentication required", store.ErrValidation)
	}
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if actor.Role == domain.RoleSupplier && product.SupplierID != actor.ID {
		return fmt.Errorf("%w: product belongs to another supplier", store.ErrValidation)
	}
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSupplier {
		return fmt.Errorf("%w: admin or supplier role required", store.ErrValidation)
	}
	return s.repo.SetStock(ctx, productID, available)
}

func (s *Service) GetStock(ctx context.Context, productIDs []string) (map[string]domain.StockRecord, error) {
	return s.repo.GetStockMap(ctx, productIDs)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Supplier{}, fmt.Errorf("%w: admin role required", store.ErrValidation)
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, fmt.Errorf("%w: supplier name is required", store.ErrValidation)
	}
	if req.CommissionRatePercent.IsNegative() || req.CommissionRatePercent.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Supplier{}, fmt.Errorf("%w: commission rate must be between 0 and 100", store.ErrValidation)
	}
	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:                  req.Name,
		Phone:                 strings.TrimSpace(req.Phone),
		CommissionRatePercent: req.CommissionRatePercent,
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreatePromotion(ctx context.Context, req domain.PromotionCreateRequest) (domain.Promotion, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSupplier) {
		return domain.Promotion{}, fmt.Errorf("%w: admin or supplier role required", store.ErrValidation)
	}
	if actor.Role == domain.RoleSupplier {
		req.SupplierID = actor.ID
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.SupplierID == "" {
		return domain.Promotion{}, fmt.Errorf("%w: promotion name and supplier are required", store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return domain.Promotion{}, fmt.Errorf("%w: promotion amount must be positive", store.ErrValidation)
	}
	created, err := s.repo.CreatePromotion(ctx, domain.Promotion{
		SupplierID:     req.SupplierID,
		Name:           req.Name,
		MinOrderAmount: req.MinOrderAmount,
		Amount:         req.Amount,
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	return *created, nil
}

func (s *Service) ListPromotions(ctx context.Context, supplierID string, activeOnly bool) ([]domain.Promotion, error) {
	return s.repo.ListPromotions(ctx, supplierID, activeOnly)
}

func (s *Service) SetPromotionActive(ctx context.Context, promoID string, active bool) (domain.Promotion, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSupplier) {
		return domain.Promotion{}, fmt.Errorf("%w: admin or supplier role required", store.ErrValidation)
	}
	updated, err := s.repo.UpdatePromotionActive(ctx, promoID, active)
	if err != nil {
		return domain.Promotion{}, err
	}
	return *updated, nil
}

// promotionResolver honours a supplier promotion only while the cart still
// clears its minimum order amount.
type promotionResolver struct {
	repo store.Repository
}

func (r promotionResolver) Resolve(ctx context.Context, reference string, cart domain.Cart) (decimal.Decimal, error) {
	promos, err := r.repo.ListPromotions(ctx, "", true)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range promos {
		if p.ID != reference {
			continue
		}
		if cart.Subtotal.LessThan(p.MinOrderAmount) {
			return decimal.Zero, fmt.Errorf("%w: cart subtotal below promotion minimum %s", store.ErrValidation, p.MinOrderAmount)
		}
		return p.Amount, nil
	}
	return decimal.Zero, fmt.Errorf("%w: promotion %s", store.ErrNotFound, reference)
}

func (s *Service) notify(ctx context.Context, kind string, order domain.Order) {
	s.notifier.Publish(ctx, OrderEvent{
		Kind:       kind,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		SupplierID: order.SupplierID,
		Status:     order.Status,
		At:         s.now().UTC(),
	})
}
