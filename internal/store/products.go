package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
)

func CreateProduct(ctx context.Context, db *sql.DB, sku, name, description string, categoryID *int64) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, category_id, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING id, sku, name, description, category_id, created_at, updated_at, version`

	err := db.QueryRowContext(ctx, query, sku, name, description, categoryID).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.CategoryID,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `
		SELECT id, sku, name, description, category_id, created_at, updated_at, version
		FROM products
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.CategoryID,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, sku, name, description, category_id, created_at, updated_at, version
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Description,
			&product.CategoryID,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
