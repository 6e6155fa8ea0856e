package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure for retry purposes.
type ErrorKind string

const (
	ErrorKindTimeout      ErrorKind = "TIMEOUT"
	ErrorKindRateLimit    ErrorKind = "RATE_LIMIT"
	ErrorKindServerError  ErrorKind = "SERVER_ERROR"
	ErrorKindUnauthorized ErrorKind = "UNAUTHORIZED"
	ErrorKindBadRequest   ErrorKind = "BAD_REQUEST"
	ErrorKindUnknown      ErrorKind = "UNKNOWN"
	// ErrorKindUndefined marks configuration problems such as zero main equity. Never retried.
	ErrorKindUndefined ErrorKind = "CONFIGURATION_UNDEFINED"
)

// Retryable reports whether failures of this kind are transient.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindRateLimit, ErrorKindServerError:
		return true
	}
	return false
}

// ErrorRecord is a classified failure kept for the retry decision and the run report.
type ErrorRecord struct {
	Kind        ErrorKind `json:"kind"`
	Retryable   bool      `json:"retryable"`
	Consecutive int       `json:"consecutive"`
	Symbol      string    `json:"symbol,omitempty"`
	Message     string    `json:"message"`
}

func (r ErrorRecord) String() string {
	if r.Symbol != "" {
		return fmt.Sprintf("%s %s: %s", r.Kind, r.Symbol, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// BrokerError is returned by broker adapters that know the HTTP status of a failure.
type BrokerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BrokerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker error %d: %s", e.StatusCode, e.Message)
}

var (
	// ErrUndefinedScale is returned when the main account equity is not positive.
	ErrUndefinedScale = errors.New("scale is undefined: main account equity must be positive")
	// ErrNoSnapshot is returned when the cache holds no snapshot for an account.
	ErrNoSnapshot = errors.New("no account snapshot available")
)
