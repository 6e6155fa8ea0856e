package failures

import (
	"context"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/vadiminshakov/mirror/internal/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"401", &domain.BrokerError{StatusCode: 401}, domain.ErrorKindUnauthorized},
		{"403", &domain.BrokerError{StatusCode: 403}, domain.ErrorKindUnauthorized},
		{"400", &domain.BrokerError{StatusCode: 400, Message: "insufficient funds"}, domain.ErrorKindBadRequest},
		{"429", &domain.BrokerError{StatusCode: 429}, domain.ErrorKindRateLimit},
		{"500", &domain.BrokerError{StatusCode: 500}, domain.ErrorKindServerError},
		{"503 wrapped", errors.Wrap(&domain.BrokerError{StatusCode: 503}, "place order"), domain.ErrorKindServerError},
		{"418", &domain.BrokerError{StatusCode: 418}, domain.ErrorKindUnknown},
		{"binance rate limit", &common.APIError{Code: -1003, Message: "too much request weight"}, domain.ErrorKindRateLimit},
		{"binance bad key", &common.APIError{Code: -2015, Message: "invalid api-key"}, domain.ErrorKindUnauthorized},
		{"binance filter", &common.APIError{Code: -1013, Message: "filter failure: LOT_SIZE"}, domain.ErrorKindBadRequest},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "fetch"), domain.ErrorKindTimeout},
		{"net timeout", timeoutErr{}, domain.ErrorKindTimeout},
		{"message timeout", fmt.Errorf("request timed out"), domain.ErrorKindTimeout},
		{"message auth", fmt.Errorf("Unauthorized"), domain.ErrorKindUnauthorized},
		{"authentication failed", fmt.Errorf("authentication failed for key"), domain.ErrorKindUnauthorized},
		{"author is not auth", fmt.Errorf("unknown author field"), domain.ErrorKindUnknown},
		{"message rate", fmt.Errorf("rate limit exceeded"), domain.ErrorKindRateLimit},
		{"undefined scale", errors.Wrap(domain.ErrUndefinedScale, "plan"), domain.ErrorKindUndefined},
		{"unknown", fmt.Errorf("something odd"), domain.ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestUnknownIsNotRetryable(t *testing.T) {
	assert.False(t, IsRetryable(fmt.Errorf("something odd")))
	assert.False(t, IsRetryable(&domain.BrokerError{StatusCode: 401}))
	assert.True(t, IsRetryable(&domain.BrokerError{StatusCode: 502}))

	rec := Record(&domain.BrokerError{StatusCode: 429, Message: "slow down"}, "AAPL")
	assert.Equal(t, domain.ErrorKindRateLimit, rec.Kind)
	assert.True(t, rec.Retryable)
	assert.Equal(t, "AAPL", rec.Symbol)
}

func TestTracker(t *testing.T) {
	tr := NewTracker(Settings{MaxConsecutive: 2}, nil)

	rec := tr.Failure(domain.ErrorRecord{Kind: domain.ErrorKindServerError})
	assert.Equal(t, 1, rec.Consecutive)
	tr.Failure(domain.ErrorRecord{Kind: domain.ErrorKindServerError})
	assert.False(t, tr.Exhausted())

	tr.Failure(domain.ErrorRecord{Kind: domain.ErrorKindTimeout})
	assert.True(t, tr.Exhausted())
	assert.True(t, tr.ShouldHalt(), "an exhausted budget halts without stop_on_critical")

	tr.Success()
	assert.False(t, tr.Exhausted())

	sum := tr.Summary()
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 0, sum.Consecutive)
	assert.Equal(t, 2, sum.ByKind[domain.ErrorKindServerError])

	tr.Reset()
	assert.Equal(t, 0, tr.Summary().Total)
}

func TestTrackerCritical(t *testing.T) {
	tr := NewTracker(Settings{MaxConsecutive: 5, StopOnCritical: true}, nil)
	assert.False(t, tr.ShouldHalt())

	tr.Failure(domain.ErrorRecord{Kind: domain.ErrorKindUnauthorized})
	assert.True(t, tr.Critical())
	assert.True(t, tr.ShouldHalt())

	tr.Success()
	assert.True(t, tr.Critical(), "success does not clear a critical failure")
}

func TestTrackerCriticalWithoutStopOnCritical(t *testing.T) {
	tr := NewTracker(Settings{MaxConsecutive: 5}, nil)

	tr.Failure(domain.ErrorRecord{Kind: domain.ErrorKindUnauthorized})
	assert.True(t, tr.Critical())
	assert.False(t, tr.ShouldHalt(), "a critical failure halts only with stop_on_critical")
}
