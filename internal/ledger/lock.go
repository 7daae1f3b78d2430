package ledger

import "context"

// lineLock is a mutex whose acquisition honors a context deadline.
type lineLock chan struct{}

func newLineLock() lineLock { return make(lineLock, 1) }

// Lock blocks until the lock is held or ctx is done.
func (l lineLock) Lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	default:
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the lock.
func (l lineLock) Unlock() { <-l }
