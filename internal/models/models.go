package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CategoryID  *int64    `json:"category_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

// ProductVariant is the purchasable SKU: it carries the price and the stock.
// Quantity never goes below zero; the store layer only ever changes it with
// conditional updates.
type ProductVariant struct {
	ID         int64             `json:"id"`
	ProductID  int64             `json:"product_id"`
	Price      decimal.Decimal   `json:"price"`
	Quantity   int               `json:"quantity"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Version    int               `json:"version"`
}

type Cart struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CartItem struct {
	ID        int64     `json:"id"`
	CartID    int64     `json:"cart_id"`
	ProductID int64     `json:"product_id"`
	VariantID int64     `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	OrderNumber      string          `json:"order_number"`
	Status           string          `json:"status"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	AppliedVoucherID *int64          `json:"applied_voucher_id,omitempty"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentStatus    string          `json:"payment_status"`
	Notes            string          `json:"notes,omitempty"`
	ShippedAt        *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int             `json:"version"`
	Items            []OrderItem     `json:"items,omitempty"`
	Shipping         *ShippingInfo   `json:"shipping,omitempty"`
	Payment          *Payment        `json:"payment,omitempty"`
}

// OrderItem freezes the unit price and variant attributes at order time.
// Rows are immutable after creation.
type OrderItem struct {
	ID         int64             `json:"id"`
	OrderID    int64             `json:"order_id"`
	ProductID  int64             `json:"product_id"`
	VariantID  int64             `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type ShippingInfo struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	Ward      string    `json:"ward,omitempty"`
	District  string    `json:"district,omitempty"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"created_at"`
}

type Payment struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	Status        string          `json:"status"`
	Method        string          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PaymentTransaction records one gateway interaction. Rows are append-only so
// redelivered notifications leave an audit trail instead of overwriting it.
type PaymentTransaction struct {
	ID            int64             `json:"id"`
	PaymentID     int64             `json:"payment_id"`
	TxnRef        string            `json:"txn_ref"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	Status        string            `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Provider      string            `json:"provider"`
	ProviderData  map[string]string `json:"provider_data,omitempty"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

type Voucher struct {
	ID            int64               `json:"id"`
	Code          string              `json:"code"`
	DiscountType  string              `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	MinOrderValue decimal.Decimal     `json:"min_order_value"`
	MaxDiscount   decimal.NullDecimal `json:"max_discount,omitempty"`
	StartDate     time.Time           `json:"start_date"`
	EndDate       time.Time           `json:"end_date"`
	IsActive      bool                `json:"is_active"`
	UsageLimit    *int                `json:"usage_limit,omitempty"`
	UsageCount    int                 `json:"usage_count"`
	ApplicableFor string              `json:"applicable_for"`
	Scope         VoucherScope        `json:"-"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// VoucherScope is the decoded form of the voucher's conditions payload,
// keyed by ApplicableFor. The raw JSON never leaves the store layer.
type VoucherScope interface {
	isVoucherScope()
}

type ScopeAll struct{}

type ScopeProducts struct {
	ProductIDs []int64 `json:"product_ids"`
}

type ScopeCategories struct {
	CategoryIDs []int64 `json:"category_ids"`
}

type ScopeUsers struct {
	UserIDs []int64 `json:"user_ids"`
}

type ScopeFirstOrder struct{}

func (ScopeAll) isVoucherScope()        {}
func (ScopeProducts) isVoucherScope()   {}
func (ScopeCategories) isVoucherScope() {}
func (ScopeUsers) isVoucherScope()      {}
func (ScopeFirstOrder) isVoucherScope() {}

// ScopeFromConditions decodes a conditions payload into the scope variant
// named by applicableFor. Unknown applicability values are rejected here so
// untyped payloads never reach business logic.
func ScopeFromConditions(applicableFor string, conditions []byte) (VoucherScope, error) {
	if len(conditions) == 0 {
		conditions = []byte(`{}`)
	}

	switch applicableFor {
	case ApplicableForAll:
		return ScopeAll{}, nil
	case ApplicableForFirstOrder:
		return ScopeFirstOrder{}, nil
	case ApplicableForSpecificProducts:
		var scope ScopeProducts
		if err := json.Unmarshal(conditions, &scope); err != nil {
			return nil, err
		}
		return scope, nil
	case ApplicableForSpecificCategories:
		var scope ScopeCategories
		if err := json.Unmarshal(conditions, &scope); err != nil {
			return nil, err
		}
		return scope, nil
	case ApplicableForSpecificUsers:
		var scope ScopeUsers
		if err := json.Unmarshal(conditions, &scope); err != nil {
			return nil, err
		}
		return scope, nil
	}
	return nil, fmt.Errorf("unknown applicable_for %q", applicableFor)
}

// MarshalJSON emits the scope back out as the conditions object, mirroring
// the wire shape UnmarshalJSON accepts.
func (v Voucher) MarshalJSON() ([]byte, error) {
	type alias Voucher
	return json.Marshal(struct {
		alias
		Conditions VoucherScope `json:"conditions,omitempty"`
	}{alias: alias(v), Conditions: v.Scope})
}

// UnmarshalJSON decodes the conditions object into the typed scope, keyed by
// applicable_for, so API payloads carry scoped vouchers losslessly.
func (v *Voucher) UnmarshalJSON(data []byte) error {
	type alias Voucher
	aux := struct {
		*alias
		Conditions json.RawMessage `json:"conditions,omitempty"`
	}{alias: (*alias)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if v.ApplicableFor == "" {
		v.Scope = nil
		return nil
	}
	scope, err := ScopeFromConditions(v.ApplicableFor, aux.Conditions)
	if err != nil {
		return err
	}
	v.Scope = scope
	return nil
}

type Notification struct {
	ID        int64             `json:"id"`
	UserID    int64             `json:"user_id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	IsRead    bool              `json:"is_read"`
	CreatedAt time.Time         `json:"created_at"`
}

const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusPaid     = "PAID"
	PaymentStatusFailed   = "FAILED"
	PaymentStatusRefunded = "REFUNDED"
)

// Declared payment methods. Only COD and VNPAY are accepted at checkout;
// the rest are reserved until their gateway adapters exist.
const (
	PaymentMethodCOD          = "COD"
	PaymentMethodVNPay        = "VNPAY"
	PaymentMethodMomo         = "MOMO"
	PaymentMethodBankTransfer = "BANK_TRANSFER"
)

const (
	TxnStatusPending = "PENDING"
	TxnStatusSuccess = "SUCCESS"
	TxnStatusFailed  = "FAILED"
)

const (
	DiscountTypePercentage = "PERCENTAGE"
	DiscountTypeFixed      = "FIXED"
)

const (
	ApplicableForAll                = "ALL"
	ApplicableForSpecificProducts   = "SPECIFIC_PRODUCTS"
	ApplicableForSpecificCategories = "SPECIFIC_CATEGORIES"
	ApplicableForSpecificUsers      = "SPECIFIC_USERS"
	ApplicableForFirstOrder         = "FIRST_ORDER"
)

const (
	NotificationOrderStatus  = "ORDER_STATUS"
	NotificationOrderCancel  = "ORDER_CANCELLED"
	NotificationPaymentEvent = "PAYMENT_EVENT"
)

const (
	RoleAdmin    = "ADMIN"
	RoleCustomer = "CUSTOMER"
)
