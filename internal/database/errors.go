package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, ErrLockTimeout) {
		return ErrorClassTransient
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrVariantNotFound      = errors.New("product variant not found")
	ErrCartItemNotFound     = errors.New("cart item not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrVoucherNotFound      = errors.New("voucher not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrVoucherExhausted     = errors.New("voucher usage limit reached")
	ErrVoucherRejected      = errors.New("voucher not applicable")
	ErrAmountMismatch       = errors.New("payment amount mismatch")
	ErrDuplicatePayment     = errors.New("payment already exists for order")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrForbidden            = errors.New("actor not allowed")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
	ErrLockTimeout          = errors.New("lock timeout")
)
