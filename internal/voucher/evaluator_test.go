package voucher

import (
	"testing"
	"time"

	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/shopspring/decimal"
)

func activeVoucher() *models.Voucher {
	return &models.Voucher{
		ID:            1,
		Code:          "SALE10",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinOrderValue: decimal.NewFromInt(100000),
		StartDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:      true,
		ApplicableFor: models.ApplicableForAll,
		Scope:         models.ScopeAll{},
	}
}

func input(total int64) EvalInput {
	return EvalInput{
		OrderTotal: decimal.NewFromInt(total),
		UserID:     7,
		ProductIDs: []int64{1, 2},
		Now:        time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateValid(t *testing.T) {
	res := Evaluate(activeVoucher(), input(300000))
	if !res.Valid {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
	if !res.Discount.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("expected discount 30000, got %s", res.Discount)
	}
}

func TestEvaluatePercentageClampedToMaxDiscount(t *testing.T) {
	v := activeVoucher()
	v.MaxDiscount = decimal.NewNullDecimal(decimal.NewFromInt(20000))

	res := Evaluate(v, input(300000))
	if !res.Valid {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
	if !res.Discount.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("expected clamped discount 20000, got %s", res.Discount)
	}
}

func TestEvaluateFixedClampedToOrderTotal(t *testing.T) {
	v := activeVoucher()
	v.DiscountType = models.DiscountTypeFixed
	v.DiscountValue = decimal.NewFromInt(500000)

	res := Evaluate(v, input(150000))
	if !res.Valid {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
	if !res.Discount.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("fixed discount should not exceed total, got %s", res.Discount)
	}
}

func TestEvaluateCheckOrder(t *testing.T) {
	limit := 5

	cases := []struct {
		name   string
		mutate func(*models.Voucher)
		in     EvalInput
		reason string
	}{
		{
			name:   "missing voucher",
			mutate: nil,
			in:     input(300000),
			reason: ReasonNotFound,
		},
		{
			name:   "inactive",
			mutate: func(v *models.Voucher) { v.IsActive = false },
			in:     input(300000),
			reason: ReasonInactive,
		},
		{
			name: "expired",
			mutate: func(v *models.Voucher) {
				v.EndDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			},
			in:     input(300000),
			reason: ReasonOutsideWindow,
		},
		{
			name: "exhausted",
			mutate: func(v *models.Voucher) {
				v.UsageLimit = &limit
				v.UsageCount = 5
			},
			in:     input(300000),
			reason: ReasonLimitReached,
		},
		{
			name:   "below minimum",
			mutate: nil,
			in:     input(50000),
			reason: ReasonBelowMinimum,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v *models.Voucher
			if tc.name != "missing voucher" {
				v = activeVoucher()
				if tc.mutate != nil {
					tc.mutate(v)
				}
			}
			res := Evaluate(v, tc.in)
			if res.Valid {
				t.Fatal("expected rejection")
			}
			if res.Reason != tc.reason {
				t.Errorf("expected reason %q, got %q", tc.reason, res.Reason)
			}
		})
	}
}

func TestEvaluateScopePolicies(t *testing.T) {
	t.Run("specific products intersecting", func(t *testing.T) {
		v := activeVoucher()
		v.ApplicableFor = models.ApplicableForSpecificProducts
		v.Scope = models.ScopeProducts{ProductIDs: []int64{2, 9}}

		if res := Evaluate(v, input(300000)); !res.Valid {
			t.Errorf("expected valid, got reason %q", res.Reason)
		}
	})

	t.Run("specific products disjoint", func(t *testing.T) {
		v := activeVoucher()
		v.ApplicableFor = models.ApplicableForSpecificProducts
		v.Scope = models.ScopeProducts{ProductIDs: []int64{9}}

		res := Evaluate(v, input(300000))
		if res.Valid || res.Reason != ReasonWrongProducts {
			t.Errorf("expected %q, got valid=%v reason=%q", ReasonWrongProducts, res.Valid, res.Reason)
		}
	})

	t.Run("specific products with empty order", func(t *testing.T) {
		v := activeVoucher()
		v.ApplicableFor = models.ApplicableForSpecificProducts
		v.Scope = models.ScopeProducts{ProductIDs: []int64{1}}

		in := input(300000)
		in.ProductIDs = nil
		if res := Evaluate(v, in); res.Valid {
			t.Error("empty product list must not satisfy a product-scoped voucher")
		}
	})

	t.Run("specific users", func(t *testing.T) {
		v := activeVoucher()
		v.ApplicableFor = models.ApplicableForSpecificUsers
		v.Scope = models.ScopeUsers{UserIDs: []int64{7}}

		if res := Evaluate(v, input(300000)); !res.Valid {
			t.Errorf("expected valid, got reason %q", res.Reason)
		}

		in := input(300000)
		in.UserID = 8
		res := Evaluate(v, in)
		if res.Valid || res.Reason != ReasonWrongUser {
			t.Errorf("expected %q, got valid=%v reason=%q", ReasonWrongUser, res.Valid, res.Reason)
		}
	})

	t.Run("first order", func(t *testing.T) {
		v := activeVoucher()
		v.ApplicableFor = models.ApplicableForFirstOrder
		v.Scope = models.ScopeFirstOrder{}

		if res := Evaluate(v, input(300000)); !res.Valid {
			t.Errorf("expected valid for first order, got reason %q", res.Reason)
		}

		in := input(300000)
		in.PriorOrderCount = 3
		res := Evaluate(v, in)
		if res.Valid || res.Reason != ReasonNotFirstOrder {
			t.Errorf("expected %q, got valid=%v reason=%q", ReasonNotFirstOrder, res.Valid, res.Reason)
		}
	})
}

func TestEvaluateIsPure(t *testing.T) {
	v := activeVoucher()
	in := input(300000)

	first := Evaluate(v, in)
	second := Evaluate(v, in)

	if first.Valid != second.Valid || first.Reason != second.Reason ||
		!first.Discount.Equal(second.Discount) {
		t.Error("identical inputs must produce identical results")
	}
	if v.UsageCount != 0 {
		t.Error("evaluation must not mutate the voucher")
	}
}

func TestBestProductDiscount(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id int64, pct int64, productIDs ...int64) models.Voucher {
		return models.Voucher{
			ID:            id,
			DiscountType:  models.DiscountTypePercentage,
			DiscountValue: decimal.NewFromInt(pct),
			StartDate:     now.AddDate(0, -1, 0),
			EndDate:       now.AddDate(0, 1, 0),
			IsActive:      true,
			ApplicableFor: models.ApplicableForSpecificProducts,
			Scope:         models.ScopeProducts{ProductIDs: productIDs},
		}
	}

	candidates := []models.Voucher{
		mk(1, 5, 10),
		mk(2, 15, 10, 11),
		mk(3, 25, 12),
	}

	best := BestProductDiscount(10, candidates, now)
	if !best.Equal(decimal.NewFromInt(15)) {
		t.Errorf("expected best discount 15, got %s", best)
	}

	if got := BestProductDiscount(99, candidates, now); !got.IsZero() {
		t.Errorf("expected zero for uncovered product, got %s", got)
	}

	expired := candidates
	expired[1].EndDate = now.AddDate(0, -1, 0)
	best = BestProductDiscount(10, expired, now)
	if !best.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expired voucher must not win, got %s", best)
	}
}

func TestDiscountedUnitPrice(t *testing.T) {
	price := decimal.NewFromInt(200000)

	got := DiscountedUnitPrice(price, decimal.NewFromInt(15))
	if !got.Equal(decimal.NewFromInt(170000)) {
		t.Errorf("expected 170000, got %s", got)
	}

	if got := DiscountedUnitPrice(price, decimal.Zero); !got.Equal(price) {
		t.Errorf("zero discount must keep the price, got %s", got)
	}
}
