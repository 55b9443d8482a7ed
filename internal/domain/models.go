package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Supplier struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Phone                 string          `json:"phone"`
	CommissionRatePercent decimal.Decimal `json:"commission_rate_percent"`
	CreatedAt             time.Time       `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name                  string          `json:"name"`
	Phone                 string          `json:"phone"`
	CommissionRatePercent decimal.Decimal `json:"commission_rate_percent"`
}

type Product struct {
	ID          string          `json:"id"`
	SupplierID  string          `json:"supplier_id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	MinOrderQty decimal.Decimal `json:"min_order_qty"`
	Active      bool            `json:"active"`
	Approved    bool            `json:"approved"`
}

// StockRecord is the per-product ledger entry. available is sellable
// quantity, reserved is held by in-flight orders. available never goes
// below zero.
type StockRecord struct {
	ProductID string          `json:"product_id"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

type CartItem struct {
	ProductID         string          `json:"product_id"`
	SupplierID        string          `json:"supplier_id"`
	ProductName       string          `json:"product_name"`
	Category          string          `json:"category"`
	Unit              string          `json:"unit"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price_snapshot"`
	Requirements      string          `json:"requirements,omitempty"`
	AddedAt           time.Time       `json:"added_at"`
}

// CartDiscount is the uniform shape for the three externally resolved
// discount kinds (coupon, coins, supplier promotion).
type CartDiscount struct {
	Kind      string          `json:"kind"`
	Reference string          `json:"reference,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// Cart is the single draft selection per customer. Totals are derived on
// every mutation and never written directly.
type Cart struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	Items       []CartItem      `json:"items"`
	Discounts   []CartDiscount  `json:"discounts,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Commission  decimal.Decimal `json:"commission"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type DeliveryAddress struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Landmark string `json:"landmark,omitempty"`
	Phone    string `json:"phone"`
}

type OrderLine struct {
	ProductID       string           `json:"product_id"`
	ProductName     string           `json:"product_name"`
	Category        string           `json:"category"`
	Unit            string           `json:"unit"`
	OrderedQty      decimal.Decimal  `json:"ordered_qty"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	LineTotal       decimal.Decimal  `json:"line_total"`
	ActualDelivered *decimal.Decimal `json:"actual_delivered_qty,omitempty"`
	Requirements    string           `json:"requirements,omitempty"`
}

// Pricing is fully derivable from the lines plus the stored rate
// constants, and is re-derived in full whenever any line changes.
type Pricing struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	CommissionRatePercent decimal.Decimal `json:"commission_rate_percent"`
	Commission            decimal.Decimal `json:"commission"`
	GSTRatePercent        decimal.Decimal `json:"gst_rate_percent"`
	GSTAmount             decimal.Decimal `json:"gst_amount"`
	CGSTAmount            decimal.Decimal `json:"cgst_amount"`
	SGSTAmount            decimal.Decimal `json:"sgst_amount"`
	GatewayRatePercent    decimal.Decimal `json:"gateway_rate_percent"`
	GatewayCharges        decimal.Decimal `json:"payment_gateway_charges"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
}

type Payment struct {
	Method            string          `json:"method"`
	Status            string          `json:"status"`
	AdvancePercentage decimal.Decimal `json:"advance_percentage"`
	AdvanceAmount     decimal.Decimal `json:"advance_amount"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	GatewaySessionRef string          `json:"gateway_session_ref,omitempty"`
	Proof             string          `json:"proof,omitempty"`
}

// CoolingPeriod: EndTime is fixed at order creation and never extended.
type CoolingPeriod struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (c CoolingPeriod) ActiveAt(t time.Time) bool {
	return t.Before(c.EndTime)
}

type TimelineEntry struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor"`
	ActorRole string    `json:"actor_role"`
	At        time.Time `json:"at"`
}

type Cancellation struct {
	Reason          string          `json:"reason"`
	CancelledBy     string          `json:"cancelled_by"`
	CancelledRole   string          `json:"cancelled_role"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	DeductionAmount decimal.Decimal `json:"deduction_amount"`
	CancelledAt     time.Time       `json:"cancelled_at"`
}

type Invoice struct {
	AdjustedLines []string        `json:"adjusted_lines"`
	Delta         decimal.Decimal `json:"delta"`
	ReconciledBy  string          `json:"reconciled_by"`
	ReconciledAt  time.Time       `json:"reconciled_at"`
}

// Order is one (checkout, supplier) pair. The delivery address is a
// snapshot taken at creation; later profile edits do not touch it.
type Order struct {
	ID              string          `json:"id"`
	CheckoutGroupID string          `json:"checkout_group_id"`
	CustomerID      string          `json:"customer_id"`
	SupplierID      string          `json:"supplier_id"`
	Lines           []OrderLine     `json:"lines"`
	Pricing         Pricing         `json:"pricing"`
	Payment         Payment         `json:"payment"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	CoolingPeriod   CoolingPeriod   `json:"cooling_period"`
	Status          string          `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	Timeline        []TimelineEntry `json:"timeline"`
	Cancellation    *Cancellation   `json:"cancellation,omitempty"`
	Invoice         *Invoice        `json:"invoice,omitempty"`
	DeliveryOTPHash string          `json:"-"`
	StockReleased   bool            `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Actor struct {
	ID   string
	Role string
}

type AddItemRequest struct {
	ProductID    string          `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Requirements string          `json:"requirements,omitempty"`
}

type UpdateQuantityRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type ApplyDiscountRequest struct {
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
}

type CartViolation struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

type SupplierGroup struct {
	SupplierID string     `json:"supplier_id"`
	Items      []CartItem `json:"items"`
}

type CheckoutRequest struct {
	DeliveryAddress   DeliveryAddress `json:"delivery_address"`
	PaymentMethod     string          `json:"payment_method"`
	AdvancePercentage decimal.Decimal `json:"advance_percentage"`
}

type CheckoutFailure struct {
	SupplierID string `json:"supplier_id"`
	ProductID  string `json:"product_id,omitempty"`
	Reason     string `json:"reason"`
}

type CheckoutResponse struct {
	CheckoutGroupID string            `json:"checkout_group_id"`
	Orders          []Order           `json:"orders"`
	Failures        []CheckoutFailure `json:"failures"`
}

type TransitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// DeliveryOTP is returned exactly once, on the transition to dispatched.
// Only the bcrypt hash is stored.
type TransitionResponse struct {
	Order       Order  `json:"order"`
	DeliveryOTP string `json:"delivery_otp,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RefundBreakdown struct {
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	DeductionAmount decimal.Decimal `json:"deduction_amount"`
	RefundPercent   decimal.Decimal `json:"refund_percent"`
}

type LineAdjustment struct {
	ProductID string          `json:"product_id"`
	ActualQty decimal.Decimal `json:"actual_qty"`
}

type InvoiceUpdateRequest struct {
	Adjustments []LineAdjustment `json:"adjustments"`
}

type InvoiceUpdateResponse struct {
	Order Order           `json:"order"`
	Delta decimal.Decimal `json:"delta"`
}

type CompleteDeliveryRequest struct {
	OTP string `json:"otp"`
}

type RecordPaymentRequest struct {
	Proof string `json:"proof"`
}

// OrderMetaUpdateRequest covers the customer-editable order fields.
// Nil means leave the field untouched.
type OrderMetaUpdateRequest struct {
	DeliveryAddress *DeliveryAddress `json:"delivery_address,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
}

type ProductCreateRequest struct {
	SupplierID   string          `json:"supplier_id,omitempty"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	MinOrderQty  decimal.Decimal `json:"min_order_qty"`
	InitialStock decimal.Decimal `json:"initial_stock"`
}

type ToggleActiveRequest struct {
	Active bool `json:"active"`
}

type StockSetRequest struct {
	Available decimal.Decimal `json:"available"`
}

// Promotion is a supplier-funded cart discount; the resolver checks the
// cart still qualifies before the amount is honoured.
type Promotion struct {
	ID             string          `json:"id"`
	SupplierID     string          `json:"supplier_id"`
	Name           string          `json:"name"`
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`
	Amount         decimal.Decimal `json:"amount"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PromotionCreateRequest struct {
	SupplierID     string          `json:"supplier_id"`
	Name           string          `json:"name"`
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`
	Amount         decimal.Decimal `json:"amount"`
}

type AccountCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is the persistence model for auth credentials. Password
// holds a bcrypt hash.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	OrderStatusPending         = "pending"
	OrderStatusConfirmed       = "confirmed"
	OrderStatusPreparing       = "preparing"
	OrderStatusMaterialLoading = "material_loading"
	OrderStatusProcessing      = "processing"
	OrderStatusDispatched      = "dispatched"
	OrderStatusDelivered       = "delivered"
	OrderStatusCancelled       = "cancelled"
)

const (
	PaymentMethodCOD        = "cash-on-delivery"
	PaymentMethodCard       = "card"
	PaymentMethodUPI        = "upi"
	PaymentMethodNetbanking = "netbanking"
	PaymentMethodWallet     = "wallet"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	DiscountKindCoupon    = "coupon"
	DiscountKindCoins     = "coins"
	DiscountKindPromotion = "promotion"
)

const (
	RoleCustomer = "customer"
	RoleSupplier = "supplier"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

const (
	EventOrderCreated    = "order_created"
	EventOrderStatus     = "order_status_changed"
	EventOrderCancelled  = "order_cancelled"
	EventOrderDelivered  = "order_delivered"
	EventInvoiceAdjusted = "order_invoice_adjusted"
)
