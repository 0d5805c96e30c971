package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/minhvo/go-shop-core/internal/vnpay"
)

const paymentColumns = `
	id, order_id, status, method, amount, transaction_id, created_at, updated_at`

func scanPaymentRow(row rowScanner) (*models.Payment, error) {
	payment := &models.Payment{}
	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Status,
		&payment.Method,
		&payment.Amount,
		&payment.TransactionID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return payment, nil
}

func GetPaymentByOrder(ctx context.Context, db *sql.DB, orderID int64) (*models.Payment, error) {
	return scanPaymentRow(db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
}

func lockPayment(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Payment, error) {
	return scanPaymentRow(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE`, orderID))
}

func setPaymentStatus(ctx context.Context, tx *sql.Tx, paymentID int64, status string, transactionID *string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET status = $2, transaction_id = COALESCE($3, transaction_id), updated_at = NOW()
		 WHERE id = $1`,
		paymentID, status, transactionID)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// mirrorLatestTransaction keeps the newest payment_transactions row in step
// with the payment it belongs to. Older rows stay untouched; they are the
// audit trail.
func mirrorLatestTransaction(ctx context.Context, tx *sql.Tx, paymentID int64, paymentStatus string, transactionID *string, errMsg *string) error {
	txnStatus := models.TxnStatusPending
	switch paymentStatus {
	case models.PaymentStatusPaid:
		txnStatus = models.TxnStatusSuccess
	case models.PaymentStatusFailed:
		txnStatus = models.TxnStatusFailed
	case models.PaymentStatusRefunded:
		// The settled row stays SUCCESS; the refund lives on the payment,
		// not on the original capture's audit row.
		return nil
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE payment_transactions
		 SET status = $2, transaction_id = COALESCE($3, transaction_id), error_message = $4
		 WHERE id = (SELECT id FROM payment_transactions WHERE payment_id = $1 ORDER BY id DESC LIMIT 1)`,
		paymentID, txnStatus, transactionID, errMsg)
	if err != nil {
		return fmt.Errorf("update payment transaction: %w", err)
	}
	return nil
}

func appendPaymentTransaction(ctx context.Context, tx *sql.Tx, payment *models.Payment, provider string, providerData map[string]string) (*models.PaymentTransaction, error) {
	if providerData == nil {
		providerData = map[string]string{}
	}
	raw, err := json.Marshal(providerData)
	if err != nil {
		return nil, fmt.Errorf("encode provider data: %w", err)
	}

	txn := &models.PaymentTransaction{
		PaymentID:    payment.ID,
		TxnRef:       uuid.NewString(),
		Status:       models.TxnStatusPending,
		Amount:       payment.Amount,
		Provider:     provider,
		ProviderData: providerData,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO payment_transactions (payment_id, txn_ref, status, amount, provider, provider_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING id, created_at`,
		txn.PaymentID, txn.TxnRef, txn.Status, txn.Amount, txn.Provider, raw).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create payment transaction: %w", err)
	}
	return txn, nil
}

// CreatePaymentAttempt opens a gateway attempt for an order that still awaits
// payment. It records an audit row and hands back what the caller needs to
// build the redirect URL. Only gateway-backed methods need an attempt; COD
// settles out of band.
func CreatePaymentAttempt(ctx context.Context, db *sql.DB, orderID int64) (*models.Order, *models.PaymentTransaction, error) {
	var (
		order *models.Order
		txn   *models.PaymentTransaction
	)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if locked.PaymentMethod != models.PaymentMethodVNPay {
			return database.ErrInvalidPaymentMethod
		}

		payment, err := lockPayment(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			return database.ErrDuplicatePayment
		}

		txn, err = appendPaymentTransaction(ctx, tx, payment, models.PaymentMethodVNPay, nil)
		if err != nil {
			return err
		}

		order, err = loadOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return order, txn, nil
}

// ProcessGatewayIPN settles a server-to-server payment notification. The
// gateway always expects a structured acknowledgement, so failures map to
// rejection codes rather than errors. Redelivery of an already-settled
// notification is acknowledged with the already-confirmed code and changes
// nothing.
func ProcessGatewayIPN(ctx context.Context, db *sql.DB, res vnpay.ReturnResult) vnpay.IPNResponse {
	if !res.IsValidSignature {
		return vnpay.IPNInvalidSignature
	}

	var settledUserID int64
	var settledOrder string

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := lockOrder(ctx, tx, res.OrderID)
		if err != nil {
			return err
		}
		payment, err := lockPayment(ctx, tx, res.OrderID)
		if err != nil {
			return err
		}
		if !payment.Amount.Equal(res.Amount) {
			return database.ErrAmountMismatch
		}
		if payment.Status != models.PaymentStatusPending {
			return database.ErrDuplicatePayment
		}

		if err := settleGatewayResult(ctx, tx, order, payment, res); err != nil {
			return err
		}
		settledUserID = order.UserID
		settledOrder = order.OrderNumber
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, database.ErrOrderNotFound), errors.Is(err, database.ErrPaymentNotFound):
		return vnpay.IPNOrderNotFound
	case errors.Is(err, database.ErrAmountMismatch):
		return vnpay.IPNInvalidAmount
	case errors.Is(err, database.ErrDuplicatePayment):
		return vnpay.IPNAlreadyConfirmed
	default:
		return vnpay.IPNUnknownError
	}

	title, message := "Payment received", fmt.Sprintf("Payment for order %s succeeded", settledOrder)
	if !res.IsSuccess {
		title, message = "Payment failed", fmt.Sprintf("Payment for order %s failed: %s", settledOrder, res.Message)
	}
	Notify(db, settledUserID, models.NotificationPaymentEvent, title, message,
		map[string]string{
			"order_id":      fmt.Sprintf("%d", res.OrderID),
			"response_code": res.ResponseCode,
		})

	return vnpay.IPNSuccess
}

// ApplyGatewayReturn settles the browser-redirect leg of a gateway payment.
// Unlike the IPN path it reports problems as errors, since there is a user on
// the other end waiting for a page. If the IPN already settled the payment
// the order is returned as-is.
func ApplyGatewayReturn(ctx context.Context, db *sql.DB, res vnpay.ReturnResult) (*models.Order, error) {
	if !res.IsValidSignature {
		return nil, vnpay.ErrInvalidSignature
	}

	var order *models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := lockOrder(ctx, tx, res.OrderID)
		if err != nil {
			return err
		}
		payment, err := lockPayment(ctx, tx, res.OrderID)
		if err != nil {
			return err
		}

		if payment.Status != models.PaymentStatusPending {
			order, err = loadOrder(ctx, tx, res.OrderID)
			return err
		}

		if !payment.Amount.Equal(res.Amount) {
			return database.ErrAmountMismatch
		}

		if err := settleGatewayResult(ctx, tx, locked, payment, res); err != nil {
			return err
		}

		order, err = loadOrder(ctx, tx, res.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// settleGatewayResult applies the gateway's verdict inside the caller's
// transaction. Success marks the payment PAID and promotes a PENDING order to
// PROCESSING; failure marks the payment FAILED and cancels the order so its
// stock and voucher come back.
func settleGatewayResult(ctx context.Context, tx *sql.Tx, order *models.Order, payment *models.Payment, res vnpay.ReturnResult) error {
	var transactionID *string
	if res.TransactionNo != "" {
		transactionID = &res.TransactionNo
	}

	if res.IsSuccess {
		if err := setPaymentStatus(ctx, tx, payment.ID, models.PaymentStatusPaid, transactionID); err != nil {
			return err
		}
		if err := mirrorLatestTransaction(ctx, tx, payment.ID, models.PaymentStatusPaid, transactionID, nil); err != nil {
			return err
		}

		status := order.Status
		if status == models.OrderStatusPending {
			status = models.OrderStatusProcessing
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, payment_status = $3, updated_at = NOW(), version = version + 1 WHERE id = $1`,
			order.ID, status, models.PaymentStatusPaid)
		if err != nil {
			return fmt.Errorf("update order payment status: %w", err)
		}
		return nil
	}

	errMsg := vnpay.ResponseMessage(res.ResponseCode)
	if err := setPaymentStatus(ctx, tx, payment.ID, models.PaymentStatusFailed, transactionID); err != nil {
		return err
	}
	if err := mirrorLatestTransaction(ctx, tx, payment.ID, models.PaymentStatusFailed, transactionID, &errMsg); err != nil {
		return err
	}

	if order.Status != models.OrderStatusCancelled && order.Status != models.OrderStatusDelivered {
		if err := cancelOrderTx(ctx, tx, order); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = NOW() WHERE id = $1`,
		order.ID, models.PaymentStatusFailed)
	if err != nil {
		return fmt.Errorf("update order payment status: %w", err)
	}
	return nil
}
