// Package pricing derives the financial breakdown of an order from its
// lines and the platform rate constants. Everything here is pure: no
// storage, no clock, no I/O. Intermediate results are rounded to two
// decimal places half-up at every step, so recomputing a breakdown from
// the same inputs always yields identical bytes.
package pricing

import (
	"github.com/shopspring/decimal"

	"nirmaan/backend/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)

	// GSTRatePercent applies to the subtotal.
	GSTRatePercent = decimal.NewFromInt(18)
	// GatewayRatePercent applies to the pre-gateway total for every
	// payment method except cash on delivery.
	GatewayRatePercent = decimal.NewFromFloat(2.5)

	MinAdvancePercent = decimal.NewFromInt(25)
	MaxAdvancePercent = decimal.NewFromInt(100)
)

// round is the single rounding rule for money: two places, half up.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal prices one line.
func LineTotal(qty, unitPrice decimal.Decimal) decimal.Decimal {
	return round(qty.Mul(unitPrice))
}

// Quote computes the full breakdown for a set of priced lines under the
// supplier's commission rate and the chosen payment method. Gateway
// charges are waived for cash on delivery.
func Quote(lines []domain.OrderLine, commissionRatePercent decimal.Decimal, paymentMethod string) domain.Pricing {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal)
	}
	subtotal = round(subtotal)

	commission := round(subtotal.Mul(commissionRatePercent).Div(hundred))
	gst := round(subtotal.Mul(GSTRatePercent).Div(hundred))
	cgst, sgst := GSTBreakdown(gst)

	preGateway := subtotal.Add(commission).Add(gst)
	gateway := decimal.Zero
	gatewayRate := decimal.Zero
	if paymentMethod != domain.PaymentMethodCOD {
		gatewayRate = GatewayRatePercent
		gateway = round(preGateway.Mul(GatewayRatePercent).Div(hundred))
	}

	return domain.Pricing{
		Subtotal:              subtotal,
		CommissionRatePercent: commissionRatePercent,
		Commission:            commission,
		GSTRatePercent:        GSTRatePercent,
		GSTAmount:             gst,
		CGSTAmount:            cgst,
		SGSTAmount:            sgst,
		GatewayRatePercent:    gatewayRate,
		GatewayCharges:        gateway,
		TotalAmount:           round(preGateway.Add(gateway)),
	}
}

// ApplyDiscounts subtracts the resolved discount amounts from total in
// the fixed order coupon, coins, promotion, flooring the running result
// at zero after each subtraction. Discounts never push a total negative.
func ApplyDiscounts(total decimal.Decimal, discounts []domain.CartDiscount) decimal.Decimal {
	result := total
	for _, kind := range []string{domain.DiscountKindCoupon, domain.DiscountKindCoins, domain.DiscountKindPromotion} {
		for _, d := range discounts {
			if d.Kind != kind {
				continue
			}
			result = result.Sub(d.Amount)
			if result.IsNegative() {
				result = decimal.Zero
			}
		}
	}
	return round(result)
}

// Split divides total into an advance and a remainder. advancePercent
// must be within [25, 100]; cash on delivery is forced to 100 regardless
// of the requested split. The remainder is total minus the rounded
// advance, so the two parts always sum back to total exactly.
func Split(total decimal.Decimal, advancePercent decimal.Decimal, paymentMethod string) (advance, remaining, effectivePercent decimal.Decimal) {
	effectivePercent = advancePercent
	if paymentMethod == domain.PaymentMethodCOD {
		effectivePercent = MaxAdvancePercent
	}
	advance = round(total.Mul(effectivePercent).Div(hundred))
	remaining = total.Sub(advance)
	return advance, remaining, effectivePercent
}

// ValidAdvancePercent reports whether pct is an acceptable advance split
// for the given method. Cash on delivery accepts anything because the
// split is forced to full payment anyway.
func ValidAdvancePercent(pct decimal.Decimal, paymentMethod string) bool {
	if paymentMethod == domain.PaymentMethodCOD {
		return true
	}
	return pct.GreaterThanOrEqual(MinAdvancePercent) && pct.LessThanOrEqual(MaxAdvancePercent)
}

// ValidPaymentMethod reports whether method names a supported channel.
func ValidPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCOD, domain.PaymentMethodCard, domain.PaymentMethodUPI,
		domain.PaymentMethodNetbanking, domain.PaymentMethodWallet:
		return true
	}
	return false
}

// Refund computes a time-decay refund for a cancellation inside the
// cooling window. bands maps elapsed-fraction thresholds (ascending) to
// refund percentages; the band whose threshold first exceeds the elapsed
// fraction wins. elapsedFraction is clamped to [0, 1].
func Refund(amountPaid decimal.Decimal, elapsedFraction decimal.Decimal, bands []RefundBand) domain.RefundBreakdown {
	if elapsedFraction.IsNegative() {
		elapsedFraction = decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if elapsedFraction.GreaterThan(one) {
		elapsedFraction = one
	}
	percent := decimal.Zero
	for _, band := range bands {
		percent = band.RefundPercent
		if elapsedFraction.LessThanOrEqual(band.UptoFraction) {
			break
		}
	}
	refund := round(amountPaid.Mul(percent).Div(hundred))
	return domain.RefundBreakdown{
		AmountPaid:      amountPaid,
		RefundAmount:    refund,
		DeductionAmount: amountPaid.Sub(refund),
		RefundPercent:   percent,
	}
}

// RefundBand pairs an elapsed-fraction ceiling with the refund percent
// owed up to that point in the cooling window.
type RefundBand struct {
	UptoFraction  decimal.Decimal
	RefundPercent decimal.Decimal
}

// DefaultRefundBands splits the cooling window into four equal quarters
// with progressively smaller refunds.
func DefaultRefundBands() []RefundBand {
	return []RefundBand{
		{UptoFraction: decimal.NewFromFloat(0.25), RefundPercent: decimal.NewFromInt(100)},
		{UptoFraction: decimal.NewFromFloat(0.5), RefundPercent: decimal.NewFromInt(90)},
		{UptoFraction: decimal.NewFromFloat(0.75), RefundPercent: decimal.NewFromInt(75)},
		{UptoFraction: decimal.NewFromInt(1), RefundPercent: decimal.NewFromInt(50)},
	}
}

// GSTBreakdown splits a GST amount into equal CGST and SGST halves for
// intra-state supply display. The halves always sum back to gst.
func GSTBreakdown(gst decimal.Decimal) (cgst, sgst decimal.Decimal) {
	cgst = round(gst.Div(decimal.NewFromInt(2)))
	sgst = gst.Sub(cgst)
	return cgst, sgst
}
