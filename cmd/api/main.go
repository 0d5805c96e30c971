package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minhvo/go-shop-core/internal/cache"
	"github.com/minhvo/go-shop-core/internal/config"
	"github.com/minhvo/go-shop-core/internal/database"
	"github.com/minhvo/go-shop-core/internal/models"
	"github.com/minhvo/go-shop-core/internal/store"
	"github.com/minhvo/go-shop-core/internal/vnpay"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	gateway := vnpay.NewClient(cfg.VNPay)

	var promoCache cache.Cache
	if cfg.Redis.Enabled {
		promoCache = cache.NewRedisCache(cfg.Redis.Addr, "shop-core")
		log.Printf("Promo index cache enabled at %s", cfg.Redis.Addr)
	}

	app := &application{
		db:       db,
		gateway:  gateway,
		cache:    promoCache,
		indexTTL: cfg.Redis.IndexTTL,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/users", app.handleUsers)
	mux.HandleFunc("/users/", app.handleUserByID)
	mux.HandleFunc("/products", app.handleProducts)
	mux.HandleFunc("/products/", app.handleProductSubtree)
	mux.HandleFunc("/cart", app.handleCart)
	mux.HandleFunc("/cart/items", app.handleCartItems)
	mux.HandleFunc("/vouchers", app.handleVouchers)
	mux.HandleFunc("/vouchers/check", app.handleVoucherCheck)
	mux.HandleFunc("/vouchers/", app.handleVoucherByID)
	mux.HandleFunc("/orders", app.handleOrders)
	mux.HandleFunc("/orders/", app.handleOrderSubtree)
	mux.HandleFunc("/payments", app.handlePayments)
	mux.HandleFunc("/payments/vnpay/return", app.handleVNPayReturn)
	mux.HandleFunc("/payments/vnpay/ipn", app.handleVNPayIPN)
	mux.HandleFunc("/payments/vnpay/query", app.handleVNPayQuery)
	mux.HandleFunc("/payments/vnpay/refund", app.handleVNPayRefund)
	mux.HandleFunc("/notifications", app.handleNotifications)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

type application struct {
	db       *sql.DB
	gateway  *vnpay.Client
	cache    cache.Cache
	indexTTL time.Duration
}

// actor extracts the caller's identity from headers. An upstream auth proxy
// is expected to have validated them already.
func actor(r *http.Request) (int64, string) {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	role := r.Header.Get("X-User-Role")
	if role == "" {
		role = models.RoleCustomer
	}
	return id, role
}

func (app *application) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := store.CreateUser(r.Context(), app.db, req.Email, req.Name)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (app *application) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r.URL.Path, "/users/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := store.GetUser(r.Context(), app.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (app *application) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var req struct {
			SKU         string `json:"sku"`
			Name        string `json:"name"`
			Description string `json:"description"`
			CategoryID  *int64 `json:"category_id,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		product, err := store.CreateProduct(ctx, app.db, req.SKU, req.Name, req.Description, req.CategoryID)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, product)

	case http.MethodGet:
		page, pageSize := pageParams(r)
		result, err := store.ListProducts(ctx, app.db, page, pageSize)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleProductSubtree routes /products/{id}, /products/{id}/variants and
// /products/{id}/promotions.
func (app *application) handleProductSubtree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rest := strings.TrimPrefix(r.URL.Path, "/products/")
	parts := strings.SplitN(rest, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		product, err := store.GetProduct(ctx, app.db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, product)
		return
	}

	switch parts[1] {
	case "variants":
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req struct {
			Price      decimal.Decimal   `json:"price"`
			Quantity   int               `json:"quantity"`
			Attributes map[string]string `json:"attributes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		variant, err := store.CreateVariant(ctx, app.db, id, req.Price, req.Quantity, req.Attributes)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, variant)

	case "promotions":
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		vouchers, err := store.ProductPromoVouchers(ctx, app.db, app.cache, app.indexTTL, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, vouchers)

	default:
		respondError(w, http.StatusNotFound, "Not found")
	}
}

func (app *application) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, _ := actor(r)
	if userID == 0 {
		respondError(w, http.StatusBadRequest, "Missing user identity")
		return
	}

	items, err := store.ListCartItems(r.Context(), app.db, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (app *application) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, _ := actor(r)
	if userID == 0 {
		respondError(w, http.StatusBadRequest, "Missing user identity")
		return
	}

	var req struct {
		ProductID int64 `json:"product_id"`
		VariantID int64 `json:"variant_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Quantity < 1 {
		respondError(w, http.StatusBadRequest, "Quantity must be at least 1")
		return
	}

	item, err := store.AddCartItem(r.Context(), app.db, userID, req.ProductID, req.VariantID, req.Quantity)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

func (app *application) handleVouchers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var v models.Voucher
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		created, err := store.CreateVoucher(ctx, app.db, &v)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		app.invalidatePromoIndex(r)
		respondJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		page, pageSize := pageParams(r)
		result, err := store.ListVouchers(ctx, app.db, page, pageSize)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleVoucherByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r.URL.Path, "/vouchers/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid voucher ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, err := store.GetVoucher(ctx, app.db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, v)

	case http.MethodPut:
		var v models.Voucher
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		v.ID = id

		updated, err := store.UpdateVoucher(ctx, app.db, &v)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		app.invalidatePromoIndex(r)
		respondJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		// Vouchers referenced by past orders are deactivated, never removed.
		if err := store.DeactivateVoucher(ctx, app.db, id); err != nil {
			respondStoreError(w, err)
			return
		}

		app.invalidatePromoIndex(r)
		w.WriteHeader(http.StatusNoContent)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleVoucherCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Code       string          `json:"code"`
		OrderTotal decimal.Decimal `json:"order_total"`
		UserID     int64           `json:"user_id"`
		ProductIDs []int64         `json:"product_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	v, result, err := store.CheckVoucher(r.Context(), app.db, req.Code, req.OrderTotal, req.UserID, req.ProductIDs)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"voucher":  v,
		"valid":    result.Valid,
		"reason":   result.Reason,
		"discount": result.Discount,
	})
}

func (app *application) handleOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		userID, _ := actor(r)
		if userID == 0 {
			respondError(w, http.StatusBadRequest, "Missing user identity")
			return
		}

		var req struct {
			PaymentMethod string `json:"payment_method"`
			Items         []struct {
				CartItemID int64 `json:"cart_item_id,omitempty"`
				ProductID  int64 `json:"product_id,omitempty"`
				VariantID  int64 `json:"variant_id,omitempty"`
				Quantity   int   `json:"quantity,omitempty"`
			} `json:"items"`
			Shipping struct {
				FullName string `json:"full_name"`
				Phone    string `json:"phone"`
				Address  string `json:"address"`
				Ward     string `json:"ward"`
				District string `json:"district"`
				City     string `json:"city"`
			} `json:"shipping"`
			VoucherID *int64 `json:"voucher_id,omitempty"`
			Notes     string `json:"notes,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		var items []store.LineRef
		for _, item := range req.Items {
			items = append(items, store.LineRef{
				CartItemID: item.CartItemID,
				ProductID:  item.ProductID,
				VariantID:  item.VariantID,
				Quantity:   item.Quantity,
			})
		}

		order, err := store.CreateOrder(ctx, app.db, store.CreateOrderRequest{
			UserID:        userID,
			PaymentMethod: req.PaymentMethod,
			Items:         items,
			Shipping: store.ShippingRequest{
				FullName: req.Shipping.FullName,
				Phone:    req.Shipping.Phone,
				Address:  req.Shipping.Address,
				Ward:     req.Shipping.Ward,
				District: req.Shipping.District,
				City:     req.Shipping.City,
			},
			VoucherID: req.VoucherID,
			Notes:     req.Notes,
		})
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, order)

	case http.MethodGet:
		userID, _ := actor(r)
		if userID == 0 {
			respondError(w, http.StatusBadRequest, "Missing user identity")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 100 {
			limit = 20
		}

		result, err := store.ListOrdersCursor(ctx, app.db, userID, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleOrderSubtree routes /orders/{id}, /orders/{id}/status,
// /orders/{id}/payment-status and /orders/{id}/cancel.
func (app *application) handleOrderSubtree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	parts := strings.SplitN(rest, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		order, err := store.GetOrder(ctx, app.db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)
		return
	}

	switch parts[1] {
	case "status":
		if r.Method != http.MethodPut {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		actorID, role := actor(r)
		order, err := store.UpdateOrderStatus(ctx, app.db, id, req.Status, role, actorID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)

	case "payment-status":
		if r.Method != http.MethodPut {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		_, role := actor(r)
		if role != models.RoleAdmin {
			respondError(w, http.StatusForbidden, "Admin only")
			return
		}
		var req struct {
			PaymentStatus string  `json:"payment_status"`
			TransactionID *string `json:"transaction_id,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		order, err := store.UpdatePaymentStatus(ctx, app.db, id, req.PaymentStatus, req.TransactionID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)

	case "cancel":
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		userID, _ := actor(r)
		order, err := store.CancelOrder(ctx, app.db, id, userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)

	default:
		respondError(w, http.StatusNotFound, "Not found")
	}
}

// handlePayments opens a gateway payment attempt and returns the redirect
// URL the client should send the shopper to.
func (app *application) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		orderID, err := strconv.ParseInt(r.URL.Query().Get("order_id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}
		payment, err := store.GetPaymentByOrder(r.Context(), app.db, orderID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, payment)
		return
	}

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		OrderID  int64  `json:"order_id"`
		BankCode string `json:"bank_code,omitempty"`
		Locale   string `json:"locale,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, txn, err := store.CreatePaymentAttempt(r.Context(), app.db, req.OrderID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	payURL, err := app.gateway.CreatePaymentURL(vnpay.PayRequest{
		OrderID:  order.ID,
		Amount:   order.Total,
		IPAddr:   clientIP(r),
		Locale:   req.Locale,
		BankCode: req.BankCode,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"order_id": order.ID,
		"txn_ref":  txn.TxnRef,
		"pay_url":  payURL,
	})
}

func (app *application) handleVNPayReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	result := app.gateway.VerifyReturn(r.URL.Query())
	order, err := store.ApplyGatewayReturn(r.Context(), app.db, result)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order":         order,
		"success":       result.IsSuccess,
		"response_code": result.ResponseCode,
		"message":       result.Message,
	})
}

// handleVNPayIPN acknowledges server-to-server payment notifications. The
// gateway retries until it sees RspCode 00 or a terminal rejection, so this
// endpoint always answers 200 with a structured body.
func (app *application) handleVNPayIPN(w http.ResponseWriter, r *http.Request) {
	var params = r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			respondJSON(w, http.StatusOK, vnpay.IPNUnknownError)
			return
		}
		params = r.Form
	}

	result := app.gateway.VerifyReturn(params)
	ack := store.ProcessGatewayIPN(r.Context(), app.db, result)
	respondJSON(w, http.StatusOK, ack)
}

func (app *application) handleVNPayQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		OrderID         int64  `json:"order_id"`
		TransactionDate string `json:"transaction_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := app.gateway.QueryTransaction(r.Context(), vnpay.QueryRequest{
		OrderID:         req.OrderID,
		TransactionDate: req.TransactionDate,
		IPAddr:          clientIP(r),
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (app *application) handleVNPayRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	_, role := actor(r)
	if role != models.RoleAdmin {
		respondError(w, http.StatusForbidden, "Admin only")
		return
	}

	var req struct {
		OrderID         int64           `json:"order_id"`
		Amount          decimal.Decimal `json:"amount"`
		TransactionNo   string          `json:"transaction_no"`
		TransactionDate string          `json:"transaction_date"`
		TransactionType string          `json:"transaction_type"`
		CreatedBy       string          `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := app.gateway.RefundTransaction(r.Context(), vnpay.RefundRequest{
		OrderID:         req.OrderID,
		Amount:          req.Amount,
		TransactionNo:   req.TransactionNo,
		TransactionDate: req.TransactionDate,
		TransactionType: req.TransactionType,
		CreatedBy:       req.CreatedBy,
		IPAddr:          clientIP(r),
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if resp.ResponseCode == vnpay.ResponseCodeSuccess {
		if _, err := store.UpdatePaymentStatus(r.Context(), app.db, req.OrderID, models.PaymentStatusRefunded, &resp.TransactionNo); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (app *application) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, _ := actor(r)
	if userID == 0 {
		respondError(w, http.StatusBadRequest, "Missing user identity")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	notifications, err := store.ListNotifications(r.Context(), app.db, userID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"items": notifications})
}

func (app *application) invalidatePromoIndex(r *http.Request) {
	if app.cache != nil {
		store.InvalidatePromoIndex(r.Context(), app.cache)
	}
}

func pathID(path, prefix string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(path, prefix), 10, 64)
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondStoreError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrVariantNotFound),
		errors.Is(err, database.ErrCartItemNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrPaymentNotFound),
		errors.Is(err, database.ErrVoucherNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrVoucherExhausted),
		errors.Is(err, database.ErrVoucherRejected),
		errors.Is(err, database.ErrDuplicatePayment),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrAmountMismatch),
		errors.Is(err, database.ErrOptimisticLockFailed),
		errors.Is(err, database.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, database.ErrInvalidPaymentMethod),
		errors.Is(err, vnpay.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, vnpay.ErrGatewayUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
