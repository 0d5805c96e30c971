package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/minhvo/go-shop-core/internal/store"
	"github.com/minhvo/go-shop-core/internal/voucher"
	"github.com/shopspring/decimal"
)

func TestVoucherUsageLimit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	userA := seedUser(t, db, "vouchers1@example.com")
	userB := seedUser(t, db, "vouchers1b@example.com")
	product, variant := seedVariant(t, db, 100, 10)

	limit := 1
	v := seedVoucher(t, db, models.Voucher{
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(10),
		UsageLimit:    &limit,
	})

	order := func(userID int64) error {
		_, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
			UserID:        userID,
			PaymentMethod: models.PaymentMethodCOD,
			Items: []store.LineRef{
				{ProductID: product.ID, VariantID: variant.ID, Quantity: 1},
			},
			Shipping:  shippingFixture(),
			VoucherID: &v.ID,
		})
		return err
	}

	if err := order(userA.ID); err != nil {
		t.Fatalf("First redemption: %v", err)
	}
	err := order(userB.ID)
	if !errors.Is(err, database.ErrVoucherExhausted) && !errors.Is(err, database.ErrVoucherRejected) {
		t.Errorf("Second redemption should be rejected, got: %v", err)
	}

	after, err := store.GetVoucher(ctx, db, v.ID)
	if err != nil {
		t.Fatalf("Get voucher: %v", err)
	}
	if after.UsageCount != 1 {
		t.Errorf("Expected usage count 1, got %d", after.UsageCount)
	}
}

func TestCheckVoucher(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "vouchers2@example.com")

	seedVoucher(t, db, models.Voucher{
		Code:          "CHECK10",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinOrderValue: decimal.NewFromInt(200),
	})

	_, result, err := store.CheckVoucher(ctx, db, "CHECK10", decimal.NewFromInt(500), user.ID, nil)
	if err != nil {
		t.Fatalf("Check voucher: %v", err)
	}
	if !result.Valid {
		t.Fatalf("Expected valid result, got reason %s", result.Reason)
	}
	if !result.Discount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected discount 50, got %s", result.Discount)
	}

	_, result, err = store.CheckVoucher(ctx, db, "CHECK10", decimal.NewFromInt(100), user.ID, nil)
	if err != nil {
		t.Fatalf("Check voucher below minimum: %v", err)
	}
	if result.Valid {
		t.Error("Order below the minimum should be rejected")
	}
	if result.Reason != voucher.ReasonBelowMinimum {
		t.Errorf("Expected reason %s, got %s", voucher.ReasonBelowMinimum, result.Reason)
	}

	_, result, err = store.CheckVoucher(ctx, db, "NO-SUCH-CODE", decimal.NewFromInt(500), user.ID, nil)
	if err != nil {
		t.Fatalf("Check unknown voucher: %v", err)
	}
	if result.Valid || result.Reason != voucher.ReasonNotFound {
		t.Errorf("Unknown code should report not found, got %+v", result)
	}
}

func TestPromoPricingAppliesBestDiscount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "vouchers3@example.com")
	product, variant := seedVariant(t, db, 100, 10)

	// Two promos cover the product; the larger percentage must win.
	seedVoucher(t, db, models.Voucher{
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		ApplicableFor: models.ApplicableForSpecificProducts,
		Scope:         models.ScopeProducts{ProductIDs: []int64{product.ID}},
	})
	seedVoucher(t, db, models.Voucher{
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(25),
		ApplicableFor: models.ApplicableForSpecificProducts,
		Scope:         models.ScopeProducts{ProductIDs: []int64{product.ID}},
	})

	order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID:        user.ID,
		PaymentMethod: models.PaymentMethodCOD,
		Items: []store.LineRef{
			{ProductID: product.ID, VariantID: variant.ID, Quantity: 2},
		},
		Shipping: shippingFixture(),
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if len(order.Items) != 1 {
		t.Fatalf("Expected 1 order item, got %d", len(order.Items))
	}
	if !order.Items[0].UnitPrice.Equal(decimal.NewFromInt(75)) {
		t.Errorf("Expected promo unit price 75, got %s", order.Items[0].UnitPrice)
	}
	if !order.Subtotal.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected subtotal 150, got %s", order.Subtotal)
	}
}

func TestScopedVoucherSurvivesAPIPayload(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "vouchers5@example.com")
	product, _ := seedVariant(t, db, 100, 10)
	other, _ := seedVariant(t, db, 100, 10)

	// Decode the voucher exactly as the admin endpoint does: straight from a
	// JSON body. The conditions object must land in the typed scope, or a
	// product-scoped voucher is persisted empty and can never apply.
	body := fmt.Sprintf(`{
		"code": "SCOPED20",
		"discount_type": "PERCENTAGE",
		"discount_value": "20",
		"start_date": "2020-01-01T00:00:00Z",
		"end_date": "2099-01-01T00:00:00Z",
		"is_active": true,
		"applicable_for": "SPECIFIC_PRODUCTS",
		"conditions": {"product_ids": [%d]}
	}`, product.ID)

	var v models.Voucher
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("Decode voucher body: %v", err)
	}
	created, err := store.CreateVoucher(ctx, db, &v)
	if err != nil {
		t.Fatalf("Create voucher: %v", err)
	}

	scope, ok := created.Scope.(models.ScopeProducts)
	if !ok || len(scope.ProductIDs) != 1 || scope.ProductIDs[0] != product.ID {
		t.Fatalf("Persisted scope should carry the product ids, got %+v", created.Scope)
	}

	_, result, err := store.CheckVoucher(ctx, db, "SCOPED20", decimal.NewFromInt(500), user.ID, []int64{product.ID})
	if err != nil {
		t.Fatalf("Check voucher: %v", err)
	}
	if !result.Valid {
		t.Errorf("Voucher should apply to its own product, got reason %s", result.Reason)
	}

	_, result, err = store.CheckVoucher(ctx, db, "SCOPED20", decimal.NewFromInt(500), user.ID, []int64{other.ID})
	if err != nil {
		t.Fatalf("Check voucher against uncovered product: %v", err)
	}
	if result.Valid {
		t.Error("Voucher must not apply to an uncovered product")
	}
}

func TestConcurrentVoucherRedemption(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	limit := 3
	v := seedVoucher(t, db, models.Voucher{
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(10),
		UsageLimit:    &limit,
	})

	concurrency := 8
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		// Separate users and variants so the voucher counter is the only
		// contended row.
		user := seedUser(t, db, fmt.Sprintf("vouchers6-%d@example.com", i))
		product, variant := seedVariant(t, db, 100, 10)

		wg.Add(1)
		go func(userID, productID, variantID int64) {
			defer wg.Done()

			_, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
				UserID:        userID,
				PaymentMethod: models.PaymentMethodCOD,
				Items: []store.LineRef{
					{ProductID: productID, VariantID: variantID, Quantity: 1},
				},
				Shipping:  shippingFixture(),
				VoucherID: &v.ID,
			})
			results <- err
		}(user.ID, product.ID, variant.ID)
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrVoucherExhausted),
			errors.Is(err, database.ErrVoucherRejected):
		case database.IsRetryable(err):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount > limit {
		t.Errorf("Usage limit %d must cap redemptions, got %d", limit, successCount)
	}

	after, err := store.GetVoucher(ctx, db, v.ID)
	if err != nil {
		t.Fatalf("Get voucher: %v", err)
	}
	if after.UsageCount != successCount {
		t.Errorf("Usage count %d should equal successful redemptions %d", after.UsageCount, successCount)
	}
}

func TestFirstOrderVoucher(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "vouchers7@example.com")
	product, variant := seedVariant(t, db, 100, 10)

	v := seedVoucher(t, db, models.Voucher{
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(10),
		ApplicableFor: models.ApplicableForFirstOrder,
		Scope:         models.ScopeFirstOrder{},
	})

	order := func() error {
		_, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
			UserID:        user.ID,
			PaymentMethod: models.PaymentMethodCOD,
			Items: []store.LineRef{
				{ProductID: product.ID, VariantID: variant.ID, Quantity: 1},
			},
			Shipping:  shippingFixture(),
			VoucherID: &v.ID,
		})
		return err
	}

	if err := order(); err != nil {
		t.Fatalf("First order should accept the voucher: %v", err)
	}
	if err := order(); !errors.Is(err, database.ErrVoucherRejected) {
		t.Errorf("Second order should be rejected, got: %v", err)
	}
}

func TestUserScopedVoucher(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	userA := seedUser(t, db, "vouchers8@example.com")
	userB := seedUser(t, db, "vouchers8b@example.com")
	product, variant := seedVariant(t, db, 100, 10)

	v := seedVoucher(t, db, models.Voucher{
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(10),
		ApplicableFor: models.ApplicableForSpecificUsers,
		Scope:         models.ScopeUsers{UserIDs: []int64{userA.ID}},
	})

	order := func(userID int64) error {
		_, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
			UserID:        userID,
			PaymentMethod: models.PaymentMethodCOD,
			Items: []store.LineRef{
				{ProductID: product.ID, VariantID: variant.ID, Quantity: 1},
			},
			Shipping:  shippingFixture(),
			VoucherID: &v.ID,
		})
		return err
	}

	if err := order(userA.ID); err != nil {
		t.Fatalf("Named user should redeem the voucher: %v", err)
	}
	if err := order(userB.ID); !errors.Is(err, database.ErrVoucherRejected) {
		t.Errorf("Unnamed user should be rejected, got: %v", err)
	}
}

func TestDeactivateVoucher(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "vouchers4@example.com")
	product, variant := seedVariant(t, db, 100, 10)

	v := seedVoucher(t, db, models.Voucher{
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: decimal.NewFromInt(10),
	})

	if err := store.DeactivateVoucher(ctx, db, v.ID); err != nil {
		t.Fatalf("Deactivate voucher: %v", err)
	}

	// Retired vouchers stay queryable for past orders but no longer apply.
	after, err := store.GetVoucher(ctx, db, v.ID)
	if err != nil {
		t.Fatalf("Get voucher: %v", err)
	}
	if after.IsActive {
		t.Error("Voucher should be inactive")
	}

	_, err = store.CreateOrder(ctx, db, store.CreateOrderRequest{
		UserID:        user.ID,
		PaymentMethod: models.PaymentMethodCOD,
		Items: []store.LineRef{
			{ProductID: product.ID, VariantID: variant.ID, Quantity: 1},
		},
		Shipping:  shippingFixture(),
		VoucherID: &v.ID,
	})
	if !errors.Is(err, database.ErrVoucherRejected) {
		t.Errorf("Inactive voucher should be rejected, got: %v", err)
	}
}
