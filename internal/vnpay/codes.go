package vnpay

const ResponseCodeSuccess = "00"

// responseMessages maps vnp_ResponseCode values to human-readable messages.
// The table follows the gateway's published code list; codes not listed here
// fall back to the generic message.
var responseMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Amount deducted, transaction suspected of fraud",
	"09": "Card or account not registered for internet banking",
	"10": "Authentication failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Incorrect OTP",
	"24": "Transaction cancelled by customer",
	"51": "Insufficient funds",
	"65": "Daily transaction limit exceeded",
	"75": "Bank is under maintenance",
	"79": "Payment password entered incorrectly too many times",
	"99": "Unknown error",
}

func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Unknown error"
}

// IPNResponse is the structured acknowledgement the gateway expects for every
// IPN delivery, including logical rejections. A rejection is an answer, not
// an error.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var (
	IPNSuccess          = IPNResponse{RspCode: "00", Message: "Confirm Success"}
	IPNOrderNotFound    = IPNResponse{RspCode: "01", Message: "Order not found"}
	IPNAlreadyConfirmed = IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	IPNInvalidAmount    = IPNResponse{RspCode: "04", Message: "Invalid amount"}
	IPNInvalidSignature = IPNResponse{RspCode: "97", Message: "Invalid signature"}
	IPNUnknownError     = IPNResponse{RspCode: "99", Message: "Unknown error"}
)
