package voucher

import (
	"time"

	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/shopspring/decimal"
)

// Rejection reasons returned to callers. Order creation surfaces these
// verbatim when a supplied voucher does not apply.
const (
	ReasonNotFound       = "voucher not found"
	ReasonInactive       = "voucher is not active"
	ReasonOutsideWindow  = "voucher is outside its validity period"
	ReasonLimitReached   = "voucher usage limit reached"
	ReasonBelowMinimum   = "order total is below the voucher minimum"
	ReasonWrongProducts  = "voucher does not apply to any product in this order"
	ReasonWrongUser      = "voucher is not available for this user"
	ReasonNotFirstOrder  = "voucher is valid for first orders only"
	ReasonMalformedScope = "voucher conditions are malformed"
)

type EvalInput struct {
	OrderTotal      decimal.Decimal
	UserID          int64
	ProductIDs      []int64
	CategoryIDs     []int64
	PriorOrderCount int
	Now             time.Time
}

type Result struct {
	Valid    bool
	Reason   string
	Discount decimal.Decimal
}

func reject(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Evaluate decides whether v applies to the described order and, if so,
// computes the discount amount. It is a pure function: it never touches
// storage and never mutates the voucher. Checks short-circuit in the
// documented order so callers get the first failing reason.
func Evaluate(v *models.Voucher, in EvalInput) Result {
	if v == nil {
		return reject(ReasonNotFound)
	}
	if !v.IsActive {
		return reject(ReasonInactive)
	}
	if in.Now.Before(v.StartDate) || in.Now.After(v.EndDate) {
		return reject(ReasonOutsideWindow)
	}
	if v.UsageLimit != nil && v.UsageCount >= *v.UsageLimit {
		return reject(ReasonLimitReached)
	}
	if in.OrderTotal.LessThan(v.MinOrderValue) {
		return reject(ReasonBelowMinimum)
	}

	switch scope := v.Scope.(type) {
	case models.ScopeAll, nil:
		// ALL applies unconditionally; a missing scope payload on an ALL
		// voucher is treated the same way.
		if v.ApplicableFor != models.ApplicableForAll {
			return reject(ReasonMalformedScope)
		}
	case models.ScopeProducts:
		if !intersects(in.ProductIDs, scope.ProductIDs) {
			return reject(ReasonWrongProducts)
		}
	case models.ScopeCategories:
		if !intersects(in.CategoryIDs, scope.CategoryIDs) {
			return reject(ReasonWrongProducts)
		}
	case models.ScopeUsers:
		if !contains(scope.UserIDs, in.UserID) {
			return reject(ReasonWrongUser)
		}
	case models.ScopeFirstOrder:
		if in.PriorOrderCount > 0 {
			return reject(ReasonNotFirstOrder)
		}
	default:
		return reject(ReasonMalformedScope)
	}

	return Result{Valid: true, Discount: Discount(v, in.OrderTotal)}
}

// Discount computes the amount v takes off orderTotal, assuming v applies.
// PERCENTAGE discounts are clamped to MaxDiscount when set; FIXED discounts
// never exceed the order total.
func Discount(v *models.Voucher, orderTotal decimal.Decimal) decimal.Decimal {
	switch v.DiscountType {
	case models.DiscountTypePercentage:
		d := orderTotal.Mul(v.DiscountValue).Div(decimal.NewFromInt(100))
		if v.MaxDiscount.Valid && d.GreaterThan(v.MaxDiscount.Decimal) {
			d = v.MaxDiscount.Decimal
		}
		return d
	case models.DiscountTypeFixed:
		if v.DiscountValue.GreaterThan(orderTotal) {
			return orderTotal
		}
		return v.DiscountValue
	}
	return decimal.Zero
}

// BestProductDiscount picks the percentage taken off a product's unit price
// by the strongest currently-valid SPECIFIC_PRODUCTS voucher covering it.
// Highest DiscountValue wins; ties keep the first candidate seen. Returns
// zero when nothing applies.
func BestProductDiscount(productID int64, candidates []models.Voucher, now time.Time) decimal.Decimal {
	best := decimal.Zero
	for _, v := range candidates {
		if !v.IsActive || v.ApplicableFor != models.ApplicableForSpecificProducts {
			continue
		}
		if now.Before(v.StartDate) || now.After(v.EndDate) {
			continue
		}
		scope, ok := v.Scope.(models.ScopeProducts)
		if !ok || !contains(scope.ProductIDs, productID) {
			continue
		}
		if v.DiscountValue.GreaterThan(best) {
			best = v.DiscountValue
		}
	}
	return best
}

// DiscountedUnitPrice applies a percentage promo to a variant price.
func DiscountedUnitPrice(price, discountPercent decimal.Decimal) decimal.Decimal {
	if discountPercent.IsZero() {
		return price
	}
	hundred := decimal.NewFromInt(100)
	return price.Mul(hundred.Sub(discountPercent)).Div(hundred)
}

func intersects(a, b []int64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[int64]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
