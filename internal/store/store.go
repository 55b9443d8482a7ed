package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrCartInvalid          = errors.New("cart invalid")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrOTPMismatch          = errors.New("delivery otp mismatch")
	ErrCoolingPeriodExpired = errors.New("cooling period expired")
	ErrLineNotAdjustable    = errors.New("line not adjustable")
	ErrConflict             = errors.New("conflicting concurrent update")
	ErrInvariantViolation   = errors.New("invariant violation")
)

type Repository interface {
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplierByID(ctx context.Context, supplierID string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	CreateProduct(ctx context.Context, product domain.Product, initialStock decimal.Decimal) (*domain.Product, error)
	GetProductByID(ctx context.Context, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, supplierID string) ([]domain.Product, error)
	SetProductActive(ctx context.Context, productID string, active bool) error

	GetStockMap(ctx context.Context, productIDs []string) (map[string]domain.StockRecord, error)
	SetStock(ctx context.Context, productID string, available decimal.Decimal) error
	// ReserveStock atomically moves qty from available to reserved for every
	// line, all-or-nothing. It never reads then writes in separate steps.
	ReserveStock(ctx context.Context, lines map[string]decimal.Decimal) error
	// ReleaseStock moves qty back from reserved to available.
	ReleaseStock(ctx context.Context, lines map[string]decimal.Decimal) error
	// ConvertReservedToSold drops qty from reserved on delivery.
	ConvertReservedToSold(ctx context.Context, lines map[string]decimal.Decimal) error

	GetCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	DeleteCart(ctx context.Context, customerID string) error

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	ListOrdersBySupplier(ctx context.Context, supplierID string, status string, limit int) ([]domain.Order, error)
	ListOrdersByCheckoutGroup(ctx context.Context, checkoutGroupID string) ([]domain.Order, error)
	// UpdateOrder persists the order only if its stored status still equals
	// expectStatus; otherwise ErrConflict.
	UpdateOrder(ctx context.Context, order domain.Order, expectStatus string) (*domain.Order, error)

	CreatePromotion(ctx context.Context, promo domain.Promotion) (*domain.Promotion, error)
	ListPromotions(ctx context.Context, supplierID string, activeOnly bool) ([]domain.Promotion, error)
	UpdatePromotionActive(ctx context.Context, promoID string, active bool) (*domain.Promotion, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
}
