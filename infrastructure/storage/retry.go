package storage

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	maxTxAttempts = 20
	txBackoffStep = 2 * time.Millisecond
)

// retryOnConflict reruns attempt while it fails with ErrConflict, at most
// maxTxAttempts times. The pause before attempt n is random in [0, n*txBackoffStep)
// so that colliding writers spread out.
func retryOnConflict(ctx context.Context, log *slog.Logger, attempt func() error) error {
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt()
		if err == nil || !errors.Is(err, ErrConflict) || n == maxTxAttempts {
			return err
		}
		log.Debug("Transaction conflict, retrying", "attempt", n, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Int64N(int64(n) * int64(txBackoffStep)))):
		}
	}
}
