package registry

import (
	"context"
	"time"

	"wakeline/pkg/models"
)

// UpdateFunc mutates a copy of the stored call. Returning an error discards
// the copy.
type UpdateFunc func(call *models.PendingCall) error

// Store is a keyed store of pending calls. Update must be atomic per
// callUUID; unrelated keys must not serialize behind each other.
type Store interface {
	Create(ctx context.Context, call models.PendingCall) error
	Get(ctx context.Context, callUUID string) (models.PendingCall, error)
	// List returns active calls only.
	List(ctx context.Context) ([]models.PendingCall, error)
	Update(ctx context.Context, callUUID string, fn UpdateFunc) (models.PendingCall, error)
	Delete(ctx context.Context, callUUID string) error
}

// Pruner is implemented by stores that need explicit eviction of resolved
// entries. Stores with native expiry do not.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}
