package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/minhvo/go-shop-core/internal/voucher"
	"github.com/shopspring/decimal"
)

// LineRef identifies one requested order line. Cart-backed lines set
// CartItemID and nothing else; catalog-backed lines set ProductID, VariantID
// and Quantity. Both resolve to the same internal form before pricing.
type LineRef struct {
	CartItemID int64
	ProductID  int64
	VariantID  int64
	Quantity   int
}

type ShippingRequest struct {
	FullName string
	Phone    string
	Address  string
	Ward     string
	District string
	City     string
}

type CreateOrderRequest struct {
	UserID        int64
	PaymentMethod string
	Items         []LineRef
	Shipping      ShippingRequest
	VoucherID     *int64
	Notes         string
}

type resolvedLine struct {
	cartItemID int64
	productID  int64
	variantID  int64
	quantity   int
	unitPrice  decimal.Decimal
	attributes map[string]string
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

func supportedPaymentMethod(method string) bool {
	// MOMO and BANK_TRANSFER are declared but have no adapter yet.
	return method == models.PaymentMethodCOD || method == models.PaymentMethodVNPay
}

// CreateOrder assembles and persists the whole order aggregate — line items,
// shipping info, payment record, voucher redemption, stock decrements and
// cart cleanup — in a single retried serializable transaction. Any failure
// leaves no partial state.
//
// An invalid voucher aborts the order; the discount is never silently
// skipped.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	if !supportedPaymentMethod(req.PaymentMethod) {
		return nil, database.ErrInvalidPaymentMethod
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("create order: no items")
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     5,
	}, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		now := time.Now()
		lines, subtotal, err := resolveLines(ctx, tx, req, now)
		if err != nil {
			return err
		}

		discount := decimal.Zero
		if req.VoucherID != nil {
			v, err := getVoucherTx(ctx, tx, *req.VoucherID)
			if err != nil {
				return err
			}
			in, err := buildEvalInput(ctx, tx, subtotal, req.UserID, productIDs(lines))
			if err != nil {
				return err
			}
			res := voucher.Evaluate(v, in)
			if !res.Valid {
				return fmt.Errorf("%w: %s", database.ErrVoucherRejected, res.Reason)
			}
			discount = res.Discount
		}

		total := subtotal.Sub(discount)
		if total.IsNegative() {
			total = decimal.Zero
		}

		orderNumber := generateOrderNumber()
		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, subtotal, discount_amount,
			                     applied_voucher_id, total, payment_method, payment_status, notes,
			                     created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
			 RETURNING id`,
			req.UserID, orderNumber, models.OrderStatusPending, subtotal, discount,
			req.VoucherID, total, req.PaymentMethod, models.PaymentStatusPending,
			req.Notes).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO shipping_info (order_id, full_name, phone, address, ward, district, city, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			orderID, req.Shipping.FullName, req.Shipping.Phone, req.Shipping.Address,
			req.Shipping.Ward, req.Shipping.District, req.Shipping.City)
		if err != nil {
			return fmt.Errorf("create shipping info: %w", err)
		}

		for _, line := range lines {
			attrs, err := encodeAttributes(line.attributes)
			if err != nil {
				return fmt.Errorf("encode item attributes: %w", err)
			}
			lineSubtotal := line.unitPrice.Mul(decimal.NewFromInt(int64(line.quantity)))
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price, subtotal, attributes, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
				orderID, line.productID, line.variantID, line.quantity,
				line.unitPrice, lineSubtotal, attrs)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO payments (order_id, status, method, amount, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())`,
			orderID, models.PaymentStatusPending, req.PaymentMethod, total)
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		// One increment per order, however many items carried the voucher.
		if req.VoucherID != nil {
			if err := consumeVoucherUsage(ctx, tx, *req.VoucherID); err != nil {
				return err
			}
		}

		for _, line := range lines {
			if err := decrementVariantStock(ctx, tx, line.variantID, line.quantity); err != nil {
				return err
			}
		}

		var consumed []int64
		for _, line := range lines {
			if line.cartItemID != 0 {
				consumed = append(consumed, line.cartItemID)
			}
		}
		if err := deleteCartItems(ctx, tx, consumed); err != nil {
			return err
		}

		order, err = loadOrder(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func resolveLines(ctx context.Context, tx *sql.Tx, req CreateOrderRequest, now time.Time) ([]resolvedLine, decimal.Decimal, error) {
	var lines []resolvedLine
	subtotal := decimal.Zero

	for _, ref := range req.Items {
		line := resolvedLine{
			cartItemID: ref.CartItemID,
			productID:  ref.ProductID,
			variantID:  ref.VariantID,
			quantity:   ref.Quantity,
		}

		if ref.CartItemID != 0 {
			item, err := getCartItem(ctx, tx, ref.CartItemID, req.UserID)
			if err != nil {
				return nil, decimal.Zero, err
			}
			line.productID = item.ProductID
			line.variantID = item.VariantID
			line.quantity = item.Quantity
		} else if ref.Quantity < 1 {
			return nil, decimal.Zero, fmt.Errorf("create order: quantity must be at least 1")
		}

		variant, err := lockVariant(ctx, tx, line.variantID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if variant.ProductID != line.productID {
			return nil, decimal.Zero, database.ErrVariantNotFound
		}
		if variant.Quantity < line.quantity {
			return nil, decimal.Zero, database.ErrInsufficientStock
		}

		promos, err := productPromoVouchersTx(ctx, tx, line.productID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		best := voucher.BestProductDiscount(line.productID, promos, now)
		line.unitPrice = voucher.DiscountedUnitPrice(variant.Price, best)
		line.attributes = variant.Attributes

		subtotal = subtotal.Add(line.unitPrice.Mul(decimal.NewFromInt(int64(line.quantity))))
		lines = append(lines, line)
	}

	return lines, subtotal, nil
}

func productIDs(lines []resolvedLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.productID)
	}
	return ids
}

const orderColumns = `
	id, user_id, order_number, status, subtotal, discount_amount, applied_voucher_id,
	total, payment_method, payment_status, notes, shipped_at, delivered_at,
	created_at, updated_at, version`

func scanOrderRow(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.Subtotal,
		&order.DiscountAmount,
		&order.AppliedVoucherID,
		&order.Total,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.Notes,
		&order.ShippedAt,
		&order.DeliveredAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return order, nil
}

// loadOrder fetches the full aggregate: order row, items, shipping, payment.
func loadOrder(ctx context.Context, q querier, id int64) (*models.Order, error) {
	order, err := scanOrderRow(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	items, err := loadOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	shipping := &models.ShippingInfo{}
	err = q.QueryRowContext(ctx,
		`SELECT id, order_id, full_name, phone, address, ward, district, city, created_at
		 FROM shipping_info WHERE order_id = $1`, id).Scan(
		&shipping.ID,
		&shipping.OrderID,
		&shipping.FullName,
		&shipping.Phone,
		&shipping.Address,
		&shipping.Ward,
		&shipping.District,
		&shipping.City,
		&shipping.CreatedAt,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get shipping info: %w", err)
	}
	if err == nil {
		order.Shipping = shipping
	}

	payment, err := scanPaymentRow(q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, id))
	if err != nil && !errors.Is(err, database.ErrPaymentNotFound) {
		return nil, err
	}
	if err == nil {
		order.Payment = payment
	}

	return order, nil
}

func loadOrderItems(ctx context.Context, q querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, variant_id, quantity, unit_price, subtotal, attributes, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var rawAttrs []byte
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&rawAttrs,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.Attributes, err = decodeAttributes(rawAttrs); err != nil {
			return nil, fmt.Errorf("decode item attributes: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	return loadOrder(ctx, db, id)
}

func lockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return scanOrderRow(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func validOrderStatus(status string) bool {
	switch status {
	case models.OrderStatusPending, models.OrderStatusProcessing,
		models.OrderStatusShipped, models.OrderStatusDelivered,
		models.OrderStatusCancelled:
		return true
	}
	return false
}

// canTransition enforces the order lifecycle: the forward chain
// PENDING → PROCESSING → SHIPPED → DELIVERED, with CANCELLED reachable from
// every non-terminal state. DELIVERED and CANCELLED are terminal.
func canTransition(from, to string) bool {
	switch from {
	case models.OrderStatusPending:
		return to == models.OrderStatusProcessing || to == models.OrderStatusCancelled
	case models.OrderStatusProcessing:
		return to == models.OrderStatusShipped || to == models.OrderStatusCancelled
	case models.OrderStatusShipped:
		return to == models.OrderStatusDelivered || to == models.OrderStatusCancelled
	}
	return false
}

// UpdateOrderStatus moves an order along its lifecycle. Only an admin or the
// owning user may call it. SHIPPED and DELIVERED stamp their timestamps;
// CANCELLED goes through the same cancellation path as CancelOrder so stock
// and voucher usage are always returned.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, newStatus, actorRole string, actorID int64) (*models.Order, error) {
	if !validOrderStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", database.ErrInvalidTransition, newStatus)
	}

	var (
		order     *models.Order
		oldStatus string
	)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if actorRole != models.RoleAdmin && actorID != locked.UserID {
			return database.ErrForbidden
		}
		if !canTransition(locked.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, locked.Status, newStatus)
		}
		oldStatus = locked.Status

		if newStatus == models.OrderStatusCancelled {
			if err := cancelOrderTx(ctx, tx, locked); err != nil {
				return err
			}
		} else {
			stamp := ""
			switch newStatus {
			case models.OrderStatusShipped:
				stamp = ", shipped_at = NOW()"
			case models.OrderStatusDelivered:
				stamp = ", delivered_at = NOW()"
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE orders
				 SET status = $2, updated_at = NOW(), version = version + 1`+stamp+`
				 WHERE id = $1`,
				orderID, newStatus)
			if err != nil {
				return fmt.Errorf("update order status: %w", err)
			}
		}

		order, err = loadOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	Notify(db, order.UserID, models.NotificationOrderStatus,
		"Order status updated",
		fmt.Sprintf("Order %s moved from %s to %s", order.OrderNumber, oldStatus, newStatus),
		map[string]string{
			"order_id":   fmt.Sprintf("%d", order.ID),
			"old_status": oldStatus,
			"new_status": newStatus,
		})

	return order, nil
}

// UpdatePaymentStatus applies a payment-side event to the order. PAID while
// the order is PENDING promotes it to PROCESSING; FAILED cancels the order
// and returns its stock. The latest payment transaction mirrors the new
// payment status.
func UpdatePaymentStatus(ctx context.Context, db *sql.DB, orderID int64, newPaymentStatus string, transactionID *string) (*models.Order, error) {
	switch newPaymentStatus {
	case models.PaymentStatusPending, models.PaymentStatusPaid,
		models.PaymentStatusFailed, models.PaymentStatusRefunded:
	default:
		return nil, fmt.Errorf("%w: unknown payment status %q", database.ErrInvalidTransition, newPaymentStatus)
	}

	var order *models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		payment, err := lockPayment(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := setPaymentStatus(ctx, tx, payment.ID, newPaymentStatus, transactionID); err != nil {
			return err
		}
		if err := mirrorLatestTransaction(ctx, tx, payment.ID, newPaymentStatus, transactionID, nil); err != nil {
			return err
		}

		switch newPaymentStatus {
		case models.PaymentStatusPaid:
			status := locked.Status
			if status == models.OrderStatusPending {
				status = models.OrderStatusProcessing
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE orders SET status = $2, payment_status = $3, updated_at = NOW(), version = version + 1 WHERE id = $1`,
				orderID, status, newPaymentStatus)
			if err != nil {
				return fmt.Errorf("update order payment status: %w", err)
			}
		case models.PaymentStatusFailed:
			if locked.Status != models.OrderStatusCancelled && locked.Status != models.OrderStatusDelivered {
				if err := cancelOrderTx(ctx, tx, locked); err != nil {
					return err
				}
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE orders SET payment_status = $2, updated_at = NOW() WHERE id = $1`,
				orderID, newPaymentStatus)
			if err != nil {
				return fmt.Errorf("update order payment status: %w", err)
			}
		default:
			_, err = tx.ExecContext(ctx,
				`UPDATE orders SET payment_status = $2, updated_at = NOW(), version = version + 1 WHERE id = $1`,
				orderID, newPaymentStatus)
			if err != nil {
				return fmt.Errorf("update order payment status: %w", err)
			}
		}

		order, err = loadOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	Notify(db, order.UserID, models.NotificationPaymentEvent,
		"Payment status updated",
		fmt.Sprintf("Payment for order %s is now %s", order.OrderNumber, newPaymentStatus),
		map[string]string{
			"order_id":       fmt.Sprintf("%d", order.ID),
			"payment_status": newPaymentStatus,
		})

	return order, nil
}

// CancelOrder is the owner-initiated cancellation. Delivered orders cannot be
// cancelled; neither can orders that already are.
func CancelOrder(ctx context.Context, db *sql.DB, orderID, userID int64) (*models.Order, error) {
	var order *models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if locked.UserID != userID {
			return database.ErrForbidden
		}
		if locked.Status == models.OrderStatusDelivered || locked.Status == models.OrderStatusCancelled {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, locked.Status, models.OrderStatusCancelled)
		}

		if err := cancelOrderTx(ctx, tx, locked); err != nil {
			return err
		}

		order, err = loadOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	Notify(db, order.UserID, models.NotificationOrderCancel,
		"Order cancelled",
		fmt.Sprintf("Order %s has been cancelled", order.OrderNumber),
		map[string]string{"order_id": fmt.Sprintf("%d", order.ID)})

	return order, nil
}

// cancelOrderTx flips the order to CANCELLED, returns every line item's stock
// and releases the voucher redemption, all inside the caller's transaction so
// a partially-cancelled order can never be observed.
func cancelOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	items, err := loadOrderItems(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := restockVariant(ctx, tx, item.VariantID, item.Quantity); err != nil {
			return err
		}
	}

	if order.AppliedVoucherID != nil {
		if err := releaseVoucherUsage(ctx, tx, *order.AppliedVoucherID); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW(), version = version + 1 WHERE id = $1`,
		order.ID, models.OrderStatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}
