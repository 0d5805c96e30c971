package vnpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minhvo/go-shop-core/internal/config"
	"github.com/shopspring/decimal"
)

const (
	version     = "2.1.0"
	commandPay  = "pay"
	currencyVND = "VND"
	dateLayout  = "20060102150405"
)

var (
	ErrInvalidSignature   = errors.New("invalid gateway signature")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// VNPay timestamps are local to the gateway, UTC+7.
var gatewayLocation = time.FixedZone("ICT", 7*60*60)

// Client builds signed payment URLs and verifies signed callbacks for the
// VNPay gateway. URL construction and verification are local; only
// QueryTransaction and RefundTransaction go over the network.
type Client struct {
	cfg  config.VNPayConfig
	http *http.Client
}

func NewClient(cfg config.VNPayConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type PayRequest struct {
	OrderID   int64
	Amount    decimal.Decimal
	OrderInfo string
	IPAddr    string
	Locale    string
	BankCode  string
	// CreatedAt defaults to the current time; tests pin it.
	CreatedAt time.Time
}

// CreatePaymentURL builds the signed redirect URL for a pay request.
//
// The signing scheme is protocol-mandated and must not drift: parameters are
// sorted by URL-encoded key, each value URL-encoded (spaces become '+'),
// joined as key=value pairs with '&', and the HMAC-SHA512 of that exact
// string is appended as vnp_SecureHash. The gateway transmits amounts scaled
// by 100 and dates as yyyyMMddHHmmss in UTC+7.
func (c *Client) CreatePaymentURL(req PayRequest) (string, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("create payment url: amount must be positive")
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.In(gatewayLocation)

	locale := req.Locale
	if locale == "" {
		locale = "vn"
	}
	txnRef := strconv.FormatInt(req.OrderID, 10)
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + txnRef
	}

	params := url.Values{}
	params.Set("vnp_Version", version)
	params.Set("vnp_Command", commandPay)
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", req.Amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	params.Set("vnp_CurrCode", currencyVND)
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", locale)
	params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	params.Set("vnp_IpAddr", req.IPAddr)
	params.Set("vnp_CreateDate", createdAt.Format(dateLayout))
	params.Set("vnp_ExpireDate", createdAt.Add(15*time.Minute).Format(dateLayout))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	payload := signPayload(params)
	hash := c.hmacSHA512(payload)

	return c.cfg.PayURL + "?" + payload + "&vnp_SecureHash=" + hash, nil
}

type ReturnResult struct {
	IsValidSignature bool
	IsSuccess        bool
	OrderID          int64
	Amount           decimal.Decimal
	TransactionNo    string
	BankCode         string
	ResponseCode     string
	Message          string
	PayDate          string
	Raw              map[string]string
}

// VerifyReturn checks the signature of a gateway callback (browser return or
// IPN share the same parameter scheme) and decodes its business fields. It
// never mutates any state; callers decide what a valid callback means.
func (c *Client) VerifyReturn(params url.Values) ReturnResult {
	res := ReturnResult{Raw: flatten(params)}

	supplied := params.Get("vnp_SecureHash")
	verifiable := url.Values{}
	for key, vals := range params {
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		if len(vals) > 0 {
			verifiable.Set(key, vals[0])
		}
	}

	expected := c.hmacSHA512(signPayload(verifiable))
	res.IsValidSignature = supplied != "" &&
		hmac.Equal([]byte(strings.ToLower(supplied)), []byte(expected))

	res.ResponseCode = params.Get("vnp_ResponseCode")
	res.IsSuccess = res.ResponseCode == ResponseCodeSuccess
	res.Message = ResponseMessage(res.ResponseCode)
	res.TransactionNo = params.Get("vnp_TransactionNo")
	res.BankCode = params.Get("vnp_BankCode")
	res.PayDate = params.Get("vnp_PayDate")

	if ref := params.Get("vnp_TxnRef"); ref != "" {
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
			res.OrderID = id
		}
	}
	if raw := params.Get("vnp_Amount"); raw != "" {
		if scaled, err := decimal.NewFromString(raw); err == nil {
			res.Amount = scaled.Div(decimal.NewFromInt(100))
		}
	}

	return res
}

type QueryRequest struct {
	OrderID         int64
	TransactionDate string
	IPAddr          string
	OrderInfo       string
}

type QueryResponse struct {
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionType   string `json:"vnp_TransactionType"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	BankCode          string `json:"vnp_BankCode"`
	PayDate           string `json:"vnp_PayDate"`
}

// QueryTransaction asks the gateway for the state of a past transaction.
//
// API calls sign a pipe-delimited field sequence, not the key=value form used
// for redirect URLs. The sequence is fixed per command; reordering it breaks
// verification on the gateway side.
func (c *Client) QueryTransaction(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	requestID := uuid.NewString()
	txnRef := strconv.FormatInt(req.OrderID, 10)
	createDate := time.Now().In(gatewayLocation).Format(dateLayout)
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Query don hang " + txnRef
	}

	signData := strings.Join([]string{
		requestID, version, "querydr", c.cfg.TmnCode, txnRef,
		req.TransactionDate, createDate, req.IPAddr, orderInfo,
	}, "|")

	body := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         version,
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TxnRef":          txnRef,
		"vnp_OrderInfo":       orderInfo,
		"vnp_TransactionDate": req.TransactionDate,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          req.IPAddr,
		"vnp_SecureHash":      c.hmacSHA512(signData),
	}

	var out QueryResponse
	if err := c.post(ctx, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type RefundRequest struct {
	OrderID         int64
	Amount          decimal.Decimal
	TransactionNo   string
	TransactionDate string
	// TransactionType "02" refunds in full, "03" partially.
	TransactionType string
	CreatedBy       string
	IPAddr          string
	OrderInfo       string
}

type RefundResponse struct {
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	BankCode          string `json:"vnp_BankCode"`
}

// RefundTransaction asks the gateway to refund a settled transaction. Same
// transport as QueryTransaction, with the refund command's own pipe-delimited
// signing sequence.
func (c *Client) RefundTransaction(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	requestID := uuid.NewString()
	txnRef := strconv.FormatInt(req.OrderID, 10)
	createDate := time.Now().In(gatewayLocation).Format(dateLayout)
	amount := req.Amount.Mul(decimal.NewFromInt(100)).Round(0).String()
	transactionType := req.TransactionType
	if transactionType == "" {
		transactionType = "02"
	}
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Hoan tien don hang " + txnRef
	}

	signData := strings.Join([]string{
		requestID, version, "refund", c.cfg.TmnCode, transactionType, txnRef,
		amount, req.TransactionNo, req.TransactionDate, req.CreatedBy,
		createDate, req.IPAddr, orderInfo,
	}, "|")

	body := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         version,
		"vnp_Command":         "refund",
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TransactionType": transactionType,
		"vnp_TxnRef":          txnRef,
		"vnp_Amount":          amount,
		"vnp_TransactionNo":   req.TransactionNo,
		"vnp_TransactionDate": req.TransactionDate,
		"vnp_CreateBy":        req.CreatedBy,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          req.IPAddr,
		"vnp_OrderInfo":       orderInfo,
		"vnp_SecureHash":      c.hmacSHA512(signData),
	}

	var out RefundResponse
	if err := c.post(ctx, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, body map[string]string, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// signPayload serializes params in the exact form the HMAC covers: keys
// sorted after URL-encoding, values query-escaped (literal spaces as '+'),
// joined as key=value with '&'. Empty values are skipped.
func signPayload(params url.Values) string {
	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(params))
	for key, vals := range params {
		if len(vals) == 0 || vals[0] == "" {
			continue
		}
		pairs = append(pairs, pair{url.QueryEscape(key), url.QueryEscape(vals[0])})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p.key)
		sb.WriteByte('=')
		sb.WriteString(p.value)
	}
	return sb.String()
}

func (c *Client) hmacSHA512(payload string) string {
	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func flatten(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for key, vals := range params {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}
