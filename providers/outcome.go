package providers

import "time"

// OutcomeKind classifies one provider exchange.
type OutcomeKind int

const (
	// OutcomeSuccess carries a mapped verification record.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNotFound is a valid, billable answer: the identity does not
	// exist upstream. Never refunded.
	OutcomeNotFound
	// OutcomeError covers timeouts, network failures and upstream error
	// responses. The failover chain continues past these.
	OutcomeError
)

// Error codes surfaced on failed outcomes.
const (
	CodeNotFound      = "404_NOT_FOUND"
	CodeProviderError = "PROVIDER_ERROR"
	CodeException     = "EXCEPTION"
)

type Outcome struct {
	Kind         OutcomeKind
	Data         map[string]interface{}
	ErrorMessage string
	ErrorCode    string
	StatusCode   int
	ResponseTime time.Duration
}

func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) IsNotFound() bool {
	return o.Kind == OutcomeNotFound
}

// ResponseTimeMS is the exchange latency in whole milliseconds.
func (o Outcome) ResponseTimeMS() int {
	return int(o.ResponseTime.Milliseconds())
}

func successOutcome(data map[string]interface{}, status int, latency time.Duration) Outcome {
	return Outcome{
		Kind:         OutcomeSuccess,
		Data:         data,
		StatusCode:   status,
		ResponseTime: latency,
	}
}

func notFoundOutcome(message string, status int, latency time.Duration) Outcome {
	return Outcome{
		Kind:         OutcomeNotFound,
		ErrorMessage: message,
		ErrorCode:    CodeNotFound,
		StatusCode:   status,
		ResponseTime: latency,
	}
}

func errorOutcome(message, code string, status int, latency time.Duration) Outcome {
	return Outcome{
		Kind:         OutcomeError,
		ErrorMessage: message,
		ErrorCode:    code,
		StatusCode:   status,
		ResponseTime: latency,
	}
}
