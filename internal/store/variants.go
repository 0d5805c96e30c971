package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/shopspring/decimal"
)

func CreateVariant(ctx context.Context, db *sql.DB, productID int64, price decimal.Decimal, quantity int, attributes map[string]string) (*models.ProductVariant, error) {
	attrs, err := encodeAttributes(attributes)
	if err != nil {
		return nil, fmt.Errorf("encode variant attributes: %w", err)
	}

	variant := &models.ProductVariant{}
	var rawAttrs []byte

	query := `
		INSERT INTO product_variants (product_id, price, quantity, attributes, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING id, product_id, price, quantity, attributes, created_at, updated_at, version`

	err = db.QueryRowContext(ctx, query, productID, price, quantity, attrs).Scan(
		&variant.ID,
		&variant.ProductID,
		&variant.Price,
		&variant.Quantity,
		&rawAttrs,
		&variant.CreatedAt,
		&variant.UpdatedAt,
		&variant.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create variant: %w", err)
	}

	if variant.Attributes, err = decodeAttributes(rawAttrs); err != nil {
		return nil, fmt.Errorf("decode variant attributes: %w", err)
	}
	return variant, nil
}

func GetVariant(ctx context.Context, db *sql.DB, id int64) (*models.ProductVariant, error) {
	return scanVariantRow(db.QueryRowContext(ctx, variantQuery+` WHERE id = $1`, id))
}

const variantQuery = `
	SELECT id, product_id, price, quantity, attributes, created_at, updated_at, version
	FROM product_variants`

// lockVariant reads a variant under FOR UPDATE NOWAIT so concurrent order
// creations against the same SKU fail fast instead of queueing.
func lockVariant(ctx context.Context, tx *sql.Tx, id int64) (*models.ProductVariant, error) {
	variant, err := scanVariantRow(tx.QueryRowContext(ctx, variantQuery+` WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		return nil, err
	}
	return variant, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVariantRow(row rowScanner) (*models.ProductVariant, error) {
	variant := &models.ProductVariant{}
	var rawAttrs []byte

	err := row.Scan(
		&variant.ID,
		&variant.ProductID,
		&variant.Price,
		&variant.Quantity,
		&rawAttrs,
		&variant.CreatedAt,
		&variant.UpdatedAt,
		&variant.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrVariantNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	if variant.Attributes, err = decodeAttributes(rawAttrs); err != nil {
		return nil, fmt.Errorf("decode variant attributes: %w", err)
	}
	return variant, nil
}

// decrementVariantStock takes stock conditionally: the quantity guard lives
// in the statement itself, never in a prior read.
func decrementVariantStock(ctx context.Context, tx *sql.Tx, variantID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE product_variants
		 SET quantity = quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND quantity >= $1`,
		quantity, variantID)
	if err != nil {
		return fmt.Errorf("decrement variant stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func restockVariant(ctx context.Context, tx *sql.Tx, variantID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE product_variants
		 SET quantity = quantity + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, variantID)
	if err != nil {
		return fmt.Errorf("restock variant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrVariantNotFound
	}

	return nil
}

func encodeAttributes(attributes map[string]string) ([]byte, error) {
	if attributes == nil {
		attributes = map[string]string{}
	}
	return json.Marshal(attributes)
}

func decodeAttributes(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}
