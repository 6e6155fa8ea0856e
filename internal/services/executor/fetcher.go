package executor

import (
	"context"

	"github.com/vadiminshakov/mirror/internal/domain"
	"github.com/vadiminshakov/mirror/internal/services/cache"
)

type retryingFetcher struct {
	exec *Executor
	next cache.Fetcher
}

// WrapFetcher reads snapshots through e, so cold loads on the sync path are
// retried and counted against the session error budget.
func WrapFetcher(e *Executor, f cache.Fetcher) cache.Fetcher {
	return retryingFetcher{exec: e, next: f}
}

func (r retryingFetcher) FetchAccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	snap, _, err := DoWithData(ctx, r.exec, "", func(ctx context.Context) (domain.AccountSnapshot, error) {
		return r.next.FetchAccountSnapshot(ctx, accountID)
	})
	return snap, err
}
