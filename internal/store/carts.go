package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
)

func GetOrCreateCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		INSERT INTO carts (user_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, userID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}

	return cart, nil
}

func AddCartItem(ctx context.Context, db *sql.DB, userID, productID, variantID int64, quantity int) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("add cart item: quantity must be at least 1")
	}

	cart, err := GetOrCreateCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	item := &models.CartItem{}
	query := `
		INSERT INTO cart_items (cart_id, product_id, variant_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (cart_id, variant_id) DO UPDATE SET quantity = cart_items.quantity + $4
		RETURNING id, cart_id, product_id, variant_id, quantity, created_at`

	err = db.QueryRowContext(ctx, query, cart.ID, productID, variantID, quantity).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.VariantID,
		&item.Quantity,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return item, nil
}

func ListCartItems(ctx context.Context, db *sql.DB, userID int64) ([]models.CartItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ci.id, ci.cart_id, ci.product_id, ci.variant_id, ci.quantity, ci.created_at
		 FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 WHERE c.user_id = $1
		 ORDER BY ci.id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.VariantID,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// getCartItem resolves a cart-backed order line. Ownership is part of the
// lookup so one user cannot check out another user's cart row.
func getCartItem(ctx context.Context, tx *sql.Tx, cartItemID, userID int64) (*models.CartItem, error) {
	item := &models.CartItem{}

	err := tx.QueryRowContext(ctx,
		`SELECT ci.id, ci.cart_id, ci.product_id, ci.variant_id, ci.quantity, ci.created_at
		 FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 WHERE ci.id = $1 AND c.user_id = $2`,
		cartItemID, userID).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.VariantID,
		&item.Quantity,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartItemNotFound
		}
		return nil, fmt.Errorf("get cart item: %w", err)
	}

	return item, nil
}

func deleteCartItems(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	return nil
}
