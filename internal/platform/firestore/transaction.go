package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// Placement and order mutation flows keep their transactions small, so a
// modest attempt budget and wall-clock bound cover contention retries.
const (
	txMaxAttempts     = 5
	txDefaultDeadline = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type txConfig struct {
	attempts int
	deadline time.Duration
}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets the wall-clock budget for a transaction.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.deadline = timeout
		}
	}
}

// RunTransaction executes fn inside a Firestore transaction, bounding both the
// attempt count and the elapsed time. An already-tighter request deadline wins
// over the transaction budget.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: txMaxAttempts, deadline: txDefaultDeadline}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	runCtx, release := boundTxContext(ctx, cfg.deadline)
	defer release()

	err := client.RunTransaction(runCtx, fn, firestore.MaxAttempts(cfg.attempts))
	return WrapError("transaction", err)
}

func boundTxContext(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= budget {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, budget)
}
