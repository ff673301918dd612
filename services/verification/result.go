package verification

// Error codes surfaced to callers. Every verification ends with a definitive
// terminal result carrying at most one of these.
const (
	CodeNoProvider        = "NO_PROVIDER"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeProviderError     = "PROVIDER_ERROR"
	CodeNotFound          = "404_NOT_FOUND"
	CodeException         = "EXCEPTION"
	CodePaymentError      = "PAYMENT_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Result is the terminal answer for one verification request.
type Result struct {
	Success        bool                   `json:"success"`
	Data           map[string]interface{} `json:"data,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ErrorCode      string                 `json:"error_code,omitempty"`
	ResponseTimeMS int                    `json:"response_time"`
	ProviderUsed   int64                  `json:"-"`
	Reference      string                 `json:"reference,omitempty"`
}

func Success(data map[string]interface{}, responseTimeMS int, providerID int64) *Result {
	return &Result{
		Success:        true,
		Data:           data,
		ResponseTimeMS: responseTimeMS,
		ProviderUsed:   providerID,
	}
}

func Failure(message, code string) *Result {
	return &Result{
		Success:      false,
		ErrorMessage: message,
		ErrorCode:    code,
	}
}

func FailureWithTime(message, code string, responseTimeMS int) *Result {
	return &Result{
		Success:        false,
		ErrorMessage:   message,
		ErrorCode:      code,
		ResponseTimeMS: responseTimeMS,
	}
}

func (r *Result) IsSuccessful() bool {
	return r.Success
}
