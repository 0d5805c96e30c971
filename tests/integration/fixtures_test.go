package integration

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/minhvo/go-shop-core/internal/store"
	"github.com/shopspring/decimal"
)

var fixtureSeq int64

func nextSKU(prefix string) string {
	fixtureSeq++
	return fmt.Sprintf("%s-%03d", prefix, fixtureSeq)
}

func seedUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test User")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

// seedVariant creates a product with a single variant and returns both.
func seedVariant(t *testing.T, db *sql.DB, price int64, quantity int) (*models.Product, *models.ProductVariant) {
	t.Helper()
	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, nextSKU("TEST"), "Test Product", "Test", nil)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	variant, err := store.CreateVariant(ctx, db, product.ID, decimal.NewFromInt(price), quantity,
		map[string]string{"size": "M"})
	if err != nil {
		t.Fatalf("Create variant: %v", err)
	}

	return product, variant
}

func shippingFixture() store.ShippingRequest {
	return store.ShippingRequest{
		FullName: "Nguyen Van A",
		Phone:    "0900000000",
		Address:  "1 Test Street",
		Ward:     "Ward 1",
		District: "District 1",
		City:     "Ho Chi Minh City",
	}
}

func seedVoucher(t *testing.T, db *sql.DB, v models.Voucher) *models.Voucher {
	t.Helper()

	if v.Code == "" {
		v.Code = nextSKU("VOUCHER")
	}
	if v.StartDate.IsZero() {
		v.StartDate = time.Now().Add(-time.Hour)
	}
	if v.EndDate.IsZero() {
		v.EndDate = time.Now().Add(time.Hour)
	}
	if v.Scope == nil {
		v.Scope = models.ScopeAll{}
		v.ApplicableFor = models.ApplicableForAll
	}
	v.IsActive = true

	created, err := store.CreateVoucher(context.Background(), db, &v)
	if err != nil {
		t.Fatalf("Create voucher: %v", err)
	}
	return created
}

func variantStock(t *testing.T, db *sql.DB, variantID int64) int {
	t.Helper()
	variant, err := store.GetVariant(context.Background(), db, variantID)
	if err != nil {
		t.Fatalf("Get variant: %v", err)
	}
	return variant.Quantity
}
