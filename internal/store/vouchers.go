package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/minhvo/go-shop-core/internal/cache"
	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/minhvo/go-shop-core/internal/voucher"
	"github.com/shopspring/decimal"
)

const voucherColumns = `
	id, code, discount_type, discount_value, min_order_value, max_discount,
	start_date, end_date, is_active, usage_limit, usage_count,
	applicable_for, conditions, created_at, updated_at`

func CreateVoucher(ctx context.Context, db *sql.DB, v *models.Voucher) (*models.Voucher, error) {
	if v.DiscountValue.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("create voucher: discount value must be positive")
	}
	if v.DiscountType == models.DiscountTypePercentage &&
		v.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("create voucher: percentage discount exceeds 100")
	}
	if v.ApplicableFor == "" {
		v.ApplicableFor = models.ApplicableForAll
		v.Scope = models.ScopeAll{}
	}

	conditions, err := encodeScope(v.Scope)
	if err != nil {
		return nil, fmt.Errorf("encode voucher conditions: %w", err)
	}

	query := `
		INSERT INTO vouchers (code, discount_type, discount_value, min_order_value, max_discount,
		                      start_date, end_date, is_active, usage_limit, applicable_for, conditions,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING ` + voucherColumns

	created, err := scanVoucherRow(db.QueryRowContext(ctx, query,
		v.Code, v.DiscountType, v.DiscountValue, v.MinOrderValue, v.MaxDiscount,
		v.StartDate, v.EndDate, v.IsActive, v.UsageLimit, v.ApplicableFor, conditions))
	if err != nil {
		return nil, fmt.Errorf("create voucher: %w", err)
	}
	return created, nil
}

func GetVoucher(ctx context.Context, db *sql.DB, id int64) (*models.Voucher, error) {
	v, err := scanVoucherRow(db.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	return v, nil
}

func getVoucherTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Voucher, error) {
	v, err := scanVoucherRow(tx.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	return v, nil
}

func GetVoucherByCode(ctx context.Context, db *sql.DB, code string) (*models.Voucher, error) {
	v, err := scanVoucherRow(db.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher by code: %w", err)
	}
	return v, nil
}

func ListVouchers(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vouchers`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count vouchers: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := db.QueryContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []models.Voucher
	for rows.Next() {
		v, err := scanVoucherRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      vouchers,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// UpdateVoucher rewrites the mutable voucher fields. Vouchers referenced by
// orders are never deleted; retiring one means setting is_active = false.
func UpdateVoucher(ctx context.Context, db *sql.DB, v *models.Voucher) (*models.Voucher, error) {
	conditions, err := encodeScope(v.Scope)
	if err != nil {
		return nil, fmt.Errorf("encode voucher conditions: %w", err)
	}

	query := `
		UPDATE vouchers
		SET discount_type = $2, discount_value = $3, min_order_value = $4, max_discount = $5,
		    start_date = $6, end_date = $7, is_active = $8, usage_limit = $9,
		    applicable_for = $10, conditions = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + voucherColumns

	updated, err := scanVoucherRow(db.QueryRowContext(ctx, query,
		v.ID, v.DiscountType, v.DiscountValue, v.MinOrderValue, v.MaxDiscount,
		v.StartDate, v.EndDate, v.IsActive, v.UsageLimit, v.ApplicableFor, conditions))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrVoucherNotFound
		}
		return nil, fmt.Errorf("update voucher: %w", err)
	}
	return updated, nil
}

func DeactivateVoucher(ctx context.Context, db *sql.DB, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE vouchers SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate voucher: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrVoucherNotFound
	}
	return nil
}

// consumeVoucherUsage increments usage_count with the limit guard in the
// statement. Redemption races resolve in the database, not in Go.
func consumeVoucherUsage(ctx context.Context, tx *sql.Tx, id int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE vouchers
		 SET usage_count = usage_count + 1,
		     updated_at = NOW()
		 WHERE id = $1
		   AND (usage_limit IS NULL OR usage_count < usage_limit)`,
		id)
	if err != nil {
		return fmt.Errorf("consume voucher usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrVoucherExhausted
	}
	return nil
}

// releaseVoucherUsage undoes one redemption on cancellation. The counter
// never goes below zero; an already-zero counter is left alone.
func releaseVoucherUsage(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE vouchers
		 SET usage_count = usage_count - 1,
		     updated_at = NOW()
		 WHERE id = $1
		   AND usage_count > 0`,
		id)
	if err != nil {
		return fmt.Errorf("release voucher usage: %w", err)
	}
	return nil
}

// CheckVoucher evaluates a voucher code against a prospective order without
// consuming anything. The same evaluation runs again inside the order
// transaction at commit time.
func CheckVoucher(ctx context.Context, db *sql.DB, code string, orderTotal decimal.Decimal, userID int64, productIDs []int64) (*models.Voucher, voucher.Result, error) {
	v, err := GetVoucherByCode(ctx, db, code)
	if err != nil {
		if errors.Is(err, database.ErrVoucherNotFound) {
			return nil, voucher.Result{Valid: false, Reason: voucher.ReasonNotFound}, nil
		}
		return nil, voucher.Result{}, err
	}

	in, err := buildEvalInput(ctx, db, orderTotal, userID, productIDs)
	if err != nil {
		return nil, voucher.Result{}, err
	}

	return v, voucher.Evaluate(v, in), nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func buildEvalInput(ctx context.Context, q querier, orderTotal decimal.Decimal, userID int64, productIDs []int64) (voucher.EvalInput, error) {
	in := voucher.EvalInput{
		OrderTotal: orderTotal,
		UserID:     userID,
		ProductIDs: productIDs,
		Now:        time.Now(),
	}

	if len(productIDs) > 0 {
		rows, err := q.QueryContext(ctx,
			`SELECT DISTINCT category_id FROM products WHERE id = ANY($1) AND category_id IS NOT NULL`,
			pq.Array(productIDs))
		if err != nil {
			return in, fmt.Errorf("load product categories: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var categoryID int64
			if err := rows.Scan(&categoryID); err != nil {
				return in, fmt.Errorf("scan category: %w", err)
			}
			in.CategoryIDs = append(in.CategoryIDs, categoryID)
		}
		if err := rows.Err(); err != nil {
			return in, fmt.Errorf("rows error: %w", err)
		}
	}

	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status <> $2`,
		userID, models.OrderStatusCancelled).Scan(&in.PriorOrderCount)
	if err != nil {
		return in, fmt.Errorf("count prior orders: %w", err)
	}

	return in, nil
}

const promoIndexGeneration = "promo-gen"

// ProductPromoVouchers returns the active SPECIFIC_PRODUCTS vouchers covering
// a product: the inputs to the best-discount-wins selection. When a cache is
// supplied the jsonb containment scan is fronted by a generation-keyed redis
// entry; voucher writes bump the generation instead of enumerating keys.
func ProductPromoVouchers(ctx context.Context, db *sql.DB, c cache.Cache, ttl time.Duration, productID int64) ([]models.Voucher, error) {
	var cacheKey string
	if c != nil {
		gen, err := c.Get(ctx, c.GenerateKey(promoIndexGeneration))
		if err != nil {
			log.Printf("promo index generation lookup failed: %v", err)
		} else {
			cacheKey = c.GenerateKey("promo", gen, fmt.Sprintf("%d", productID))
			if cached, err := c.Get(ctx, cacheKey); err == nil && cached != "" {
				if vouchers, err := decodePromoRecords(cached); err == nil {
					return vouchers, nil
				}
			}
		}
	}

	vouchers, err := productPromoVouchersTx(ctx, db, productID)
	if err != nil {
		return nil, err
	}

	if c != nil && cacheKey != "" {
		if encoded, err := encodePromoRecords(vouchers); err == nil {
			if err := c.Set(ctx, cacheKey, encoded, ttl); err != nil {
				log.Printf("promo index store failed: %v", err)
			}
		}
	}

	return vouchers, nil
}

// InvalidatePromoIndex orphans every cached promo entry by bumping the
// generation. Called after voucher writes; stale keys age out via TTL.
func InvalidatePromoIndex(ctx context.Context, c cache.Cache) {
	if c == nil {
		return
	}
	if _, err := c.Incr(ctx, c.GenerateKey(promoIndexGeneration)); err != nil {
		log.Printf("promo index invalidation failed: %v", err)
	}
}

func productPromoVouchersTx(ctx context.Context, q querier, productID int64) ([]models.Voucher, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+voucherColumns+`
		 FROM vouchers
		 WHERE applicable_for = $1
		   AND is_active = TRUE
		   AND conditions -> 'product_ids' @> to_jsonb($2::bigint)
		 ORDER BY id`,
		models.ApplicableForSpecificProducts, productID)
	if err != nil {
		return nil, fmt.Errorf("load promo vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []models.Voucher
	for rows.Next() {
		v, err := scanVoucherRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo voucher: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return vouchers, nil
}

func scanVoucherRow(row rowScanner) (*models.Voucher, error) {
	v := &models.Voucher{}
	var conditions []byte

	err := row.Scan(
		&v.ID,
		&v.Code,
		&v.DiscountType,
		&v.DiscountValue,
		&v.MinOrderValue,
		&v.MaxDiscount,
		&v.StartDate,
		&v.EndDate,
		&v.IsActive,
		&v.UsageLimit,
		&v.UsageCount,
		&v.ApplicableFor,
		&conditions,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Scope, err = models.ScopeFromConditions(v.ApplicableFor, conditions)
	if err != nil {
		return nil, fmt.Errorf("decode voucher conditions: %w", err)
	}
	return v, nil
}

// encodeScope serializes a scope value into the conditions jsonb column.
func encodeScope(scope models.VoucherScope) ([]byte, error) {
	if scope == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(scope)
}

// promoRecord is the cache wire form of a promo voucher; product ids travel
// explicitly so a cache entry decodes without consulting the scope codec.
type promoRecord struct {
	Voucher    models.Voucher `json:"voucher"`
	ProductIDs []int64        `json:"product_ids"`
}

func encodePromoRecords(vouchers []models.Voucher) (string, error) {
	records := make([]promoRecord, 0, len(vouchers))
	for _, v := range vouchers {
		rec := promoRecord{Voucher: v}
		if scope, ok := v.Scope.(models.ScopeProducts); ok {
			rec.ProductIDs = scope.ProductIDs
		}
		records = append(records, rec)
	}
	raw, err := json.Marshal(records)
	return string(raw), err
}

func decodePromoRecords(encoded string) ([]models.Voucher, error) {
	var records []promoRecord
	if err := json.Unmarshal([]byte(encoded), &records); err != nil {
		return nil, err
	}
	vouchers := make([]models.Voucher, 0, len(records))
	for _, rec := range records {
		v := rec.Voucher
		v.Scope = models.ScopeProducts{ProductIDs: rec.ProductIDs}
		vouchers = append(vouchers, v)
	}
	return vouchers, nil
}
