package storage

import (
	"errors"
	"fmt"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// ErrTxRequired is returned by LockPath outside of RunInTx.
var ErrTxRequired = errors.New("operation requires a transaction")

// ErrProtectedMessage is the cause of the conflict ReplacePathMessages
// raises instead of deleting a pinned or branch point message.
var ErrProtectedMessage = errors.New("pinned or branch point message cannot be removed")

// mapError converts normalized driver errors into the error taxonomy.
// Errors that already carry a taxonomy kind pass through unchanged.
func mapError(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if types.KindOf(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, driver.ErrNoRows):
		return types.NotFound(op, resource, id)
	case errors.Is(err, driver.ErrConflict):
		return types.Conflict(op, resource, id, err)
	case errors.Is(err, driver.ErrUnavailable):
		return types.Transport(op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
