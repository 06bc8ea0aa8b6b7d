package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist or is not visible to
// the requesting owner. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// queryTimeout bounds every store operation so no request or poller tick can
// block indefinitely on the database.
const queryTimeout = 5 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}
