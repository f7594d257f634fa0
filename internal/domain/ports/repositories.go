package ports

import (
	"context"
	"fmt"

	"netsync/internal/domain/models"
)

// Refs carries the remote ids a payload references. Natural-key references in
// the record are resolved into these by the caller.
type Refs struct {
	DeviceID       int64
	InterfaceID    int64
	LAGID          int64
	UntaggedVLANID int64
	TaggedVLANIDs  []int64
	AInterfaceID   int64
	BInterfaceID   int64
}

// Payload is one item of a write call
type Payload struct {
	Key    string
	ID     int64
	Record models.Record
	// Fields limits an update to the named attributes. Empty means all.
	Fields []string
	Refs   Refs
}

// Result is the outcome of writing one payload
type Result struct {
	Key string
	ID  int64
	Err error
}

// RemoteInventory is the inventory-of-record API
type RemoteInventory interface {
	// List returns every record of kind matching the filter. Nested
	// references are returned resolved to natural names.
	List(ctx context.Context, kind models.EntityKind, filter Filter) ([]models.Record, error)
	// Get returns one record by natural key or a NotFoundError
	Get(ctx context.Context, kind models.EntityKind, key string) (models.Record, error)

	BulkCreate(ctx context.Context, kind models.EntityKind, items []Payload) ([]Result, error)
	BulkUpdate(ctx context.Context, kind models.EntityKind, items []Payload) ([]Result, error)
	BulkDelete(ctx context.Context, kind models.EntityKind, items []Payload) ([]Result, error)

	Create(ctx context.Context, kind models.EntityKind, item Payload) (Result, error)
	Update(ctx context.Context, kind models.EntityKind, item Payload) (Result, error)
	Delete(ctx context.Context, kind models.EntityKind, item Payload) (Result, error)
}

// ChangeLog is an append-only audit trail of applied changes
type ChangeLog interface {
	Append(ctx context.Context, runID string, changes []models.Change) error
	Close() error
}

// ListAs lists records of kind and asserts them to T
func ListAs[T models.Record](ctx context.Context, inv RemoteInventory, kind models.EntityKind, filter Filter) ([]T, error) {
	records, err := inv.List(ctx, kind, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		typed, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("list %s: unexpected record type %T", kind, r)
		}
		out = append(out, typed)
	}
	return out, nil
}
