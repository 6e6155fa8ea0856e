// Package failures classifies broker errors and tracks the session error budget.
package failures

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/mirror/internal/domain"
)

// Classify maps err to an ErrorKind. Anything that cannot be recognised is
// UNKNOWN and therefore not retried.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	if errors.Is(err, domain.ErrUndefinedScale) {
		return domain.ErrorKindUndefined
	}

	var brokerErr *domain.BrokerError
	if errors.As(err, &brokerErr) && brokerErr.StatusCode != 0 {
		return classifyStatus(brokerErr.StatusCode)
	}

	var binanceErr *common.APIError
	if errors.As(err, &binanceErr) {
		return classifyBinanceCode(binanceErr.Code)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		// connection level failures are transient whether or not they timed out
		return domain.ErrorKindTimeout
	}

	return classifyMessage(err.Error())
}

// Record classifies err into an ErrorRecord for symbol.
func Record(err error, symbol string) domain.ErrorRecord {
	kind := Classify(err)
	return domain.ErrorRecord{
		Kind:      kind,
		Retryable: kind.Retryable(),
		Symbol:    symbol,
		Message:   err.Error(),
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

func classifyStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrorKindUnauthorized
	case code == http.StatusTooManyRequests:
		return domain.ErrorKindRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return domain.ErrorKindTimeout
	case code >= http.StatusInternalServerError:
		return domain.ErrorKindServerError
	case code == http.StatusBadRequest || code == http.StatusNotFound || code == http.StatusUnprocessableEntity:
		return domain.ErrorKindBadRequest
	}
	return domain.ErrorKindUnknown
}

// Binance error codes, see the exchange REST documentation.
const (
	binanceUnknown        = -1000
	binanceDisconnected   = -1001
	binanceUnauthorized   = -1002
	binanceTooMany        = -1003
	binanceTimeout        = -1007
	binanceServerBusy     = -1008
	binanceTooManyOrders  = -1015
	binanceInvalidAPIKey  = -2014
	binanceRejectedAPIKey = -2015
)

func classifyBinanceCode(code int64) domain.ErrorKind {
	switch code {
	case binanceTooMany, binanceTooManyOrders:
		return domain.ErrorKindRateLimit
	case binanceTimeout:
		return domain.ErrorKindTimeout
	case binanceUnknown, binanceDisconnected, binanceServerBusy:
		return domain.ErrorKindServerError
	case binanceUnauthorized, binanceInvalidAPIKey, binanceRejectedAPIKey:
		return domain.ErrorKindUnauthorized
	}
	return domain.ErrorKindBadRequest
}

func classifyMessage(msg string) domain.ErrorKind {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return domain.ErrorKindTimeout
	case containsAny(msg, "rate limit", "too many requests"):
		return domain.ErrorKindRateLimit
	case containsAny(msg, "connection reset", "connection refused", "network", "eof"):
		return domain.ErrorKindTimeout
	case containsAny(msg, "unauthorized", "authentication", "authoriz", "invalid api-key", "signature"):
		return domain.ErrorKindUnauthorized
	case containsAny(msg, "internal server error", "service unavailable", "bad gateway"):
		return domain.ErrorKindServerError
	case containsAny(msg, "insufficient", "funds", "reject", "invalid symbol"):
		return domain.ErrorKindBadRequest
	}
	return domain.ErrorKindUnknown
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
