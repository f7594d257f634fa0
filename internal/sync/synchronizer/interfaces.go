package synchronizer

import (
	"context"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/types"
)

// SecondaryPass writes attributes the remote API does not accept in bulk. It
// receives only the successfully applied items and returns one error per
// item it could not update.
type SecondaryPass func(ctx context.Context, applied []ports.Result) []types.ItemError

// Phase is one ordered step of a multi-phase write. Prepare, when set, may
// rewrite the payloads using the results of the earlier phases.
type Phase struct {
	Name    string
	Items   []ports.Payload
	Prepare func(items []ports.Payload, earlier *types.ApplyResult) []ports.Payload
}

// BatchApplier writes classified diffs to the remote inventory
type BatchApplier interface {
	// Apply writes items with bulk calls, falling back to one call per item
	// when a bulk call fails as a whole
	Apply(ctx context.Context, kind models.EntityKind, action models.Action, items []ports.Payload, secondary SecondaryPass) *types.ApplyResult

	// ApplyPhases runs phases in order, each through Apply
	ApplyPhases(ctx context.Context, kind models.EntityKind, action models.Action, phases []Phase, secondary SecondaryPass) *types.ApplyResult
}
