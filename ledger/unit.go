package ledger

import (
	"context"
	"time"
)

// DefaultOperationTimeout bounds every unit of work unless configured.
const DefaultOperationTimeout = 5 * time.Second

// UnitOfWork runs lifecycle operations against a TxStore. Every run gets
// its own deadline, and any failure that is not a domain error comes back
// as a StorageError.
type UnitOfWork struct {
	Store   TxStore
	Timeout time.Duration
}

func NewUnitOfWork(store TxStore, timeout time.Duration) UnitOfWork {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return UnitOfWork{Store: store, Timeout: timeout}
}

// Do runs fn in one transaction. Nothing fn wrote survives an error.
func (u UnitOfWork) Do(ctx context.Context, op string, fn func(ctx context.Context, s Store) error) error {
	ctx, cancel := u.bound(ctx)
	defer cancel()

	err := u.Store.WithTx(ctx, func(s Store) error {
		if err := fn(ctx, s); err != nil {
			return err
		}
		// Never commit past the deadline.
		return ctx.Err()
	})
	return AsStorageError(op, err)
}

// Read runs fn outside a transaction under the same deadline.
func (u UnitOfWork) Read(ctx context.Context, op string, fn func(ctx context.Context, s Store) error) error {
	ctx, cancel := u.bound(ctx)
	defer cancel()
	return AsStorageError(op, fn(ctx, u.Store))
}

func (u UnitOfWork) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := u.Timeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
