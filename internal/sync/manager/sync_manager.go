package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"k8s.io/apimachinery/pkg/util/sets"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/cache"
	"netsync/internal/sync/interfaces"
	"netsync/internal/sync/monitoring"
	"netsync/internal/sync/report"
	"netsync/internal/sync/syncers"
	"netsync/internal/sync/synchronizer"
	"netsync/internal/sync/utils"
)

// Config bounds the resources of one run
type Config struct {
	MaxConcurrentDevices int
	// DeviceTimeout bounds the work of one device, including work that
	// continues after the run was cancelled
	DeviceTimeout time.Duration
	Batch         synchronizer.BatchApplyConfig
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDevices: 8,
		DeviceTimeout:        5 * time.Minute,
		Batch:                synchronizer.DefaultBatchApplyConfig(),
	}
}

// Orchestrator reconciles device snapshots with the remote inventory.
// RunDryRun and RunApply share one diff path; a dry-run stops before
// writing. A cancelled run returns its partial report along with the
// context error.
type Orchestrator interface {
	RunDryRun(ctx context.Context, snapshots []*models.Snapshot, opts interfaces.Options) (*report.Report, error)
	RunApply(ctx context.Context, snapshots []*models.Snapshot, opts interfaces.Options) (*report.Report, error)
}

// Option customizes an orchestrator
type Option func(*orchestrator)

// WithChangeLog appends applied changes to log
func WithChangeLog(log ports.ChangeLog) Option {
	return func(o *orchestrator) { o.changeLog = log }
}

// WithMetrics records run metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *orchestrator) { o.metrics = m }
}

// orchestrator implements Orchestrator
type orchestrator struct {
	inventory ports.RemoteInventory
	changeLog ports.ChangeLog
	metrics   *monitoring.Metrics
	config    Config
	logger    logr.Logger

	devices       interfaces.Reconciler
	ifaces        interfaces.Reconciler
	addresses     interfaces.Reconciler
	vlans         interfaces.Reconciler
	cables        interfaces.Reconciler
	items         interfaces.Reconciler
	deviceCleanup interfaces.Reconciler
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(inventory ports.RemoteInventory, config Config, logger logr.Logger, opts ...Option) Orchestrator {
	if config.MaxConcurrentDevices <= 0 {
		config.MaxConcurrentDevices = 1
	}
	if config.DeviceTimeout <= 0 {
		config.DeviceTimeout = DefaultConfig().DeviceTimeout
	}

	logger = logger.WithName("orchestrator")
	retry := config.Batch.Retry
	o := &orchestrator{
		inventory:     inventory,
		config:        config,
		logger:        logger,
		devices:       syncers.NewDeviceSyncer(logger),
		ifaces:        syncers.NewInterfaceSyncer(retry, logger),
		addresses:     syncers.NewIPAddressSyncer(retry, logger),
		vlans:         syncers.NewVlanSyncer(logger),
		cables:        syncers.NewCableSyncer(logger),
		items:         syncers.NewInventoryItemSyncer(logger),
		deviceCleanup: syncers.NewDeviceCleanupSyncer(logger),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.inventory = monitoring.InstrumentInventory(inventory, o.metrics)
	return o
}

// RunDryRun implements Orchestrator
func (o *orchestrator) RunDryRun(ctx context.Context, snapshots []*models.Snapshot, opts interfaces.Options) (*report.Report, error) {
	return o.run(ctx, snapshots, opts, true)
}

// RunApply implements Orchestrator
func (o *orchestrator) RunApply(ctx context.Context, snapshots []*models.Snapshot, opts interfaces.Options) (*report.Report, error) {
	return o.run(ctx, snapshots, opts, false)
}

// Per-device kinds run in two phases around the run-level cable pass so
// that every kind follows models.KindOrder.
var (
	devicePhase = []models.EntityKind{
		models.KindDevice,
		models.KindInterface,
		models.KindIPAddress,
		models.KindVLAN,
	}
	inventoryPhase = []models.EntityKind{
		models.KindInventoryItem,
	}
)

// reconcilerFor returns the per-device reconciler of kind
func (o *orchestrator) reconcilerFor(kind models.EntityKind) (interfaces.Reconciler, error) {
	switch kind {
	case models.KindDevice:
		return o.devices, nil
	case models.KindInterface:
		return o.ifaces, nil
	case models.KindIPAddress:
		return o.addresses, nil
	case models.KindVLAN:
		return o.vlans, nil
	case models.KindCable:
		return o.cables, nil
	case models.KindInventoryItem:
		return o.items, nil
	}
	return nil, fmt.Errorf("no reconciler for kind %q", kind)
}

// deviceState tracks the kinds of one device that did not complete
type deviceState struct {
	snapshot *models.Snapshot
	mu       sync.Mutex
	failed   sets.Set[models.EntityKind]
	// blocked holds kinds skipped because a dependency did not complete
	blocked   sets.Set[models.EntityKind]
	scheduled bool
	elapsed   time.Duration
}

func newDeviceState(snap *models.Snapshot) *deviceState {
	return &deviceState{
		snapshot: snap,
		failed:   sets.New[models.EntityKind](),
		blocked:  sets.New[models.EntityKind](),
	}
}

func (s *deviceState) fail(kind models.EntityKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed.Insert(kind)
}

func (s *deviceState) block(kind models.EntityKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked.Insert(kind)
}

// unavailable reports whether kind failed or was skipped
func (s *deviceState) unavailable(kind models.EntityKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed.Has(kind) || s.blocked.Has(kind)
}

func (s *deviceState) isScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

func (s *deviceState) addElapsed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed += d
}

// completed reports whether kind ran without failing
func (s *deviceState) completed(kind models.EntityKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled && !s.failed.Has(kind) && !s.blocked.Has(kind)
}

func (o *orchestrator) run(ctx context.Context, snapshots []*models.Snapshot, opts interfaces.Options, dryRun bool) (*report.Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	rep := report.New(runID, dryRun)
	logger := o.logger.WithValues("run", runID, "dryRun", dryRun)

	rc := &interfaces.RunContext{
		RunID:     runID,
		DryRun:    dryRun,
		Options:   opts,
		Inventory: o.inventory,
		Cache:     cache.NewReferenceCache(o.inventory, logger),
		Applier:   synchronizer.NewBatchApplier(o.inventory, o.config.Batch, utils.NewCallTracker(), logger),
		Logger:    logger,
	}

	states := o.admit(snapshots, opts, rep, logger)
	logger.Info("Starting reconciliation", "devices", len(states), "kinds", len(opts.Kinds))

	cancelled := o.runDevices(ctx, rc, states, rep, devicePhase)
	if !cancelled && opts.KindEnabled(models.KindCable) {
		o.runCables(ctx, rc, states, rep)
	}
	if !cancelled && opts.KindEnabled(models.KindInventoryItem) {
		cancelled = o.runDevices(ctx, rc, states, rep, inventoryPhase)
	}
	if cancelled {
		logger.Info("Run cancelled, skipping remaining kinds")
	} else if opts.KindEnabled(models.KindDevice) && opts.Cleanup(models.KindDevice) {
		o.runDeviceCleanup(ctx, rc, states, rep)
	}

	for _, state := range states {
		if state.isScheduled() {
			o.metrics.ObserveDevice(state.elapsed)
		}
	}
	rep.Finish()
	o.metrics.ObserveRun(dryRun, string(rep.Outcome()))

	stats := rc.Cache.Stats()
	logger.Info("Finished reconciliation",
		"outcome", rep.Outcome(),
		"changes", len(rep.Changes()),
		"failedDevices", len(rep.FailedDevices()),
		"cacheLoads", stats.Loads,
		"cacheHits", stats.Hits,
		"duration", rep.FinishedAt.Sub(rep.StartedAt))
	if cancelled {
		return rep, fmt.Errorf("run %s cancelled: %w", runID, ctx.Err())
	}
	return rep, nil
}

// admit registers the snapshots within scope in input order and records
// their rejected records. A repeated hostname is a conflict.
func (o *orchestrator) admit(snapshots []*models.Snapshot, opts interfaces.Options, rep *report.Report, logger logr.Logger) []*deviceState {
	seen := sets.New[string]()
	states := make([]*deviceState, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		key := snap.DeviceKey()
		if !inScope(snap.Device, opts.Scope) {
			logger.V(1).Info("Device outside the run scope", "device", key, "scope", opts.Scope.String())
			continue
		}
		if seen.Has(key) {
			rep.RecordFailure(key, models.KindDevice, &ports.ConflictError{Kind: models.KindDevice, Key: key, Side: "local"})
			continue
		}
		seen.Insert(key)
		rep.AddDevice(key)
		for _, rejected := range snap.Rejected {
			rep.RecordRejected(key, rejected)
			o.metrics.ObserveRejected(rejected.Kind)
		}
		states = append(states, newDeviceState(snap))
	}
	return states
}

func inScope(dev models.Device, scope ports.Filter) bool {
	if scope.Site != "" && !strings.EqualFold(dev.Site, scope.Site) {
		return false
	}
	if scope.Tenant != "" && (dev.Tenant == nil || *dev.Tenant != scope.Tenant) {
		return false
	}
	return true
}

// runDevices reconciles one phase of per-device kinds on a bounded pool.
// Once ctx is cancelled no further device is scheduled; devices already
// running finish under a detached context. A device never scheduled is
// reported cancelled; one cancelled in a later phase has the phase's kinds
// marked skipped. It reports whether the run was cancelled.
func (o *orchestrator) runDevices(ctx context.Context, rc *interfaces.RunContext, states []*deviceState, rep *report.Report, kinds []models.EntityKind) bool {
	p := pool.New().WithMaxGoroutines(o.config.MaxConcurrentDevices)

	cancelled := false
	for _, state := range states {
		if ctx.Err() != nil {
			cancelled = true
			o.markUnscheduled(rc, state, rep, kinds)
			continue
		}
		state.mu.Lock()
		state.scheduled = true
		state.mu.Unlock()

		state := state
		p.Go(func() {
			o.runDevice(ctx, rc, state, rep, kinds)
		})
	}
	p.Wait()
	return cancelled || ctx.Err() != nil
}

func (o *orchestrator) markUnscheduled(rc *interfaces.RunContext, state *deviceState, rep *report.Report, kinds []models.EntityKind) {
	device := state.snapshot.DeviceKey()
	if !state.isScheduled() {
		rep.MarkCancelled(device)
		return
	}
	for _, kind := range kinds {
		if rc.Options.KindEnabled(kind) {
			state.block(kind)
			rep.MarkSkipped(device, kind)
		}
	}
}

func (o *orchestrator) runDevice(ctx context.Context, rc *interfaces.RunContext, state *deviceState, rep *report.Report, kinds []models.EntityKind) {
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.DeviceTimeout)
	defer cancel()

	started := time.Now()
	device := state.snapshot.DeviceKey()
	target := interfaces.Target{Snapshot: state.snapshot}

	for _, kind := range kinds {
		if !rc.Options.KindEnabled(kind) {
			continue
		}
		if dep, ok := kind.DependsOn(); ok && state.unavailable(dep) {
			state.block(kind)
			rep.MarkSkipped(device, kind)
			o.logger.V(1).Info("Skipping kind after dependency failure", "device", device, "kind", kind, "dependency", dep)
			continue
		}

		r, err := o.reconcilerFor(kind)
		if err == nil {
			err = o.runKind(workCtx, rc, r, target, rep)
		}
		if err != nil {
			state.fail(kind)
			rep.RecordFailure(device, kind, err)
			o.metrics.ObserveKindFailure(kind)
			o.logger.Error(err, "Kind failed", "device", device, "kind", kind)
		}
	}

	state.addElapsed(time.Since(started))
	o.logger.V(1).Info("Reconciled device", "device", device, "kinds", len(kinds), "duration", time.Since(started))
}

// runKind fetches, compares and, unless dry-run, applies one kind for one
// target. The returned error fails the kind as a whole.
func (o *orchestrator) runKind(ctx context.Context, rc *interfaces.RunContext, r interfaces.Reconciler, target interfaces.Target, rep *report.Report) error {
	remote, err := r.FetchRemote(ctx, rc, target)
	if err != nil {
		return err
	}
	plan, err := r.Compare(rc, target, remote)
	if err != nil {
		return err
	}
	rep.RecordSkipped(r.Kind(), plan.Skipped())

	changes := plan.Changes()
	applied := false
	if !rc.DryRun && !plan.Empty() {
		if changes, err = r.Apply(ctx, rc, plan); err != nil {
			return err
		}
		applied = true
	}

	device := target.Device()
	for i := range changes {
		changes[i].Device = device
		rep.Record(device, changes[i])
		o.metrics.ObserveChange(changes[i])
	}
	if applied {
		o.appendChangeLog(ctx, rc.RunID, changes)
	}
	return nil
}

func (o *orchestrator) appendChangeLog(ctx context.Context, runID string, changes []models.Change) {
	if o.changeLog == nil || len(changes) == 0 {
		return
	}
	if err := o.changeLog.Append(ctx, runID, changes); err != nil {
		o.logger.Error(err, "Failed to append to change log", "run", runID, "changes", len(changes))
	}
}

// runCables reconciles cables once for every device whose interfaces
// completed. Devices whose interfaces did not complete are skipped and do
// not count as scanned, so their cables are never deleted.
func (o *orchestrator) runCables(ctx context.Context, rc *interfaces.RunContext, states []*deviceState, rep *report.Report) {
	target := interfaces.Target{Scanned: sets.New[string]()}
	for _, state := range states {
		device := state.snapshot.DeviceKey()
		if rc.Options.KindEnabled(models.KindInterface) && !state.completed(models.KindInterface) {
			rep.MarkSkipped(device, models.KindCable)
			continue
		}
		if rc.Options.KindEnabled(models.KindDevice) && !state.completed(models.KindDevice) {
			rep.MarkSkipped(device, models.KindCable)
			continue
		}
		target.Snapshots = append(target.Snapshots, state.snapshot)
		target.Scanned.Insert(device)
	}
	if len(target.Snapshots) == 0 {
		return
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.DeviceTimeout)
	defer cancel()
	if err := o.runKind(workCtx, rc, o.cables, target, rep); err != nil {
		rep.RecordFailure("", models.KindCable, err)
		o.metrics.ObserveKindFailure(models.KindCable)
		o.logger.Error(err, "Cable reconciliation failed", "devices", len(target.Snapshots))
	}
}

// runDeviceCleanup deletes tagged remote devices absent from the run. Every
// admitted device counts as present, whatever its outcome.
func (o *orchestrator) runDeviceCleanup(ctx context.Context, rc *interfaces.RunContext, states []*deviceState, rep *report.Report) {
	target := interfaces.Target{Scanned: sets.New[string]()}
	for _, state := range states {
		target.Scanned.Insert(state.snapshot.DeviceKey())
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.DeviceTimeout)
	defer cancel()
	if err := o.runKind(workCtx, rc, o.deviceCleanup, target, rep); err != nil {
		rep.RecordFailure("", models.KindDevice, err)
		o.metrics.ObserveKindFailure(models.KindDevice)
		o.logger.Error(err, "Device cleanup failed", "tag", rc.Options.CleanupScopeTag)
	}
}
