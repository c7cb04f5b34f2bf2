package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/jobledger/pkg/api"
)

// absorbConflict runs an idempotent write and, when it loses an insert race
// (ErrConflictOnInsert), replays it once. The replay finds the row the
// winner created and takes the update path, so two first-time callers with
// the same key both succeed and converge on the same row.
func absorbConflict(ctx context.Context, write func(context.Context) error) error {
	err := write(ctx)
	if !errors.Is(err, ErrConflictOnInsert) {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = write(ctx)
	if errors.Is(err, ErrConflictOnInsert) {
		// A second loss means the row keeps disappearing under us.
		return fmt.Errorf("%w: upsert did not converge: %v", api.ErrStoreUnavailable, err)
	}
	return err
}

// unavailable wraps a backend failure so callers can classify it with
// errors.Is(err, api.ErrStoreUnavailable) while the driver error stays
// reachable through errors.As. Sentinel errors and nil pass through.
func unavailable(backend, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, api.ErrJobNotFound),
		errors.Is(err, api.ErrJobExists),
		errors.Is(err, api.ErrTaskNotFound),
		errors.Is(err, api.ErrStoreUnavailable),
		errors.Is(err, api.ErrInvalidRequest),
		errors.Is(err, ErrConflictOnInsert):
		return err
	}
	return fmt.Errorf("jobledger/%s: %s: %w: %w", backend, op, api.ErrStoreUnavailable, err)
}
