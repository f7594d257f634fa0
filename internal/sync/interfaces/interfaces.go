package interfaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/cache"
	"netsync/internal/sync/synchronizer"
)

// ErrScopeTagRequired is returned when device cleanup is requested without a
// scope tag bounding it
var ErrScopeTagRequired = errors.New("device cleanup requires a scope tag")

// Options control what a run may change
type Options struct {
	// Kinds limits the run to the listed kinds. Empty means all.
	Kinds []models.EntityKind

	CreateMissing  bool
	UpdateExisting bool

	// CleanupStale enables deletion of remote records absent locally, per kind
	CleanupStale map[models.EntityKind]bool

	// CleanupScopeTag bounds device cleanup to remote devices carrying the
	// tag. Devices created by the run are tagged with it.
	CleanupScopeTag string

	// Scope is the site/tenant slice of the inventory the run covers
	Scope ports.Filter

	AllowUnresolvedNeighbors bool

	// Fields restricts the compared attributes per kind. A missing entry
	// compares every attribute.
	Fields map[models.EntityKind][]string
}

// DefaultOptions creates and updates, never deletes
func DefaultOptions() Options {
	return Options{
		CreateMissing:  true,
		UpdateExisting: true,
	}
}

// KindEnabled reports whether kind is part of the run
func (o Options) KindEnabled(kind models.EntityKind) bool {
	if len(o.Kinds) == 0 {
		return true
	}
	for _, k := range o.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Cleanup reports whether stale records of kind may be deleted
func (o Options) Cleanup(kind models.EntityKind) bool {
	return o.CleanupStale[kind]
}

// FieldsFor returns the selected field names of kind
func (o Options) FieldsFor(kind models.EntityKind) []string {
	return o.Fields[kind]
}

// Validate checks the options
func (o Options) Validate() error {
	for _, k := range o.Kinds {
		if !k.IsValid() {
			return fmt.Errorf("unknown entity kind %q", k)
		}
	}
	for k := range o.CleanupStale {
		if !k.IsValid() {
			return fmt.Errorf("unknown cleanup kind %q", k)
		}
	}
	if o.Cleanup(models.KindDevice) && o.CleanupScopeTag == "" {
		return ErrScopeTagRequired
	}
	return nil
}

// RunContext is the state shared by every reconciler of one run
type RunContext struct {
	RunID     string
	DryRun    bool
	Options   Options
	Inventory ports.RemoteInventory
	Cache     *cache.ReferenceCache
	Applier   synchronizer.BatchApplier
	Logger    logr.Logger
}

// Target is the unit a reconciler works on: one device, or the whole run for
// run-level kinds
type Target struct {
	Snapshot *models.Snapshot

	// Snapshots holds the devices eligible for a run-level kind
	Snapshots []*models.Snapshot

	// Scanned holds the device keys whose data is complete for this kind.
	// Cleanup never touches records that reach outside it.
	Scanned sets.Set[string]
}

// Device returns the key of the target device, "" for run-level targets
func (t Target) Device() string {
	if t.Snapshot == nil {
		return ""
	}
	return t.Snapshot.DeviceKey()
}

// Plan is the classified diff of one kind for one target
type Plan interface {
	Kind() models.EntityKind
	Device() string
	// Changes lists creates, updates and deletes with status planned
	Changes() []models.Change
	// Skipped counts records that matched remotely and need no change
	Skipped() int
	Empty() bool
}

// Reconciler brings one entity kind in line with the observed state
type Reconciler interface {
	Kind() models.EntityKind

	// RunLevel reports whether the kind is reconciled once per run rather
	// than once per device
	RunLevel() bool

	// FetchRemote reads the remote records the comparison needs
	FetchRemote(ctx context.Context, run *RunContext, target Target) ([]models.Record, error)

	// Compare classifies local against remote records. It never writes.
	Compare(run *RunContext, target Target, remote []models.Record) (Plan, error)

	// Apply writes plan and returns its changes with their final status. An
	// error means the kind failed as a whole for the target.
	Apply(ctx context.Context, run *RunContext, plan Plan) ([]models.Change, error)
}
