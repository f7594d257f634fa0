package syncers

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"netsync/internal/domain/models"
	"netsync/internal/sync/cache"
	"netsync/internal/sync/interfaces"
)

// DeviceCleanupSyncer deletes remote devices that carry the run's scope tag
// but were not part of the run. Without a scope tag it refuses to plan.
type DeviceCleanupSyncer struct {
	logger logr.Logger
}

// NewDeviceCleanupSyncer creates a new device cleanup syncer
func NewDeviceCleanupSyncer(logger logr.Logger) *DeviceCleanupSyncer {
	return &DeviceCleanupSyncer{
		logger: logger.WithName("device-cleanup"),
	}
}

// Kind implements interfaces.Reconciler
func (s *DeviceCleanupSyncer) Kind() models.EntityKind { return models.KindDevice }

// RunLevel implements interfaces.Reconciler
func (s *DeviceCleanupSyncer) RunLevel() bool { return true }

// FetchRemote lists the tagged devices within the run's scope
func (s *DeviceCleanupSyncer) FetchRemote(ctx context.Context, run *interfaces.RunContext, _ interfaces.Target) ([]models.Record, error) {
	tag := run.Options.CleanupScopeTag
	if tag == "" {
		return nil, interfaces.ErrScopeTagRequired
	}
	filter := run.Options.Scope
	filter.Tag = tag
	records, err := run.Inventory.List(ctx, models.KindDevice, filter)
	if err != nil {
		return nil, fmt.Errorf("list devices tagged %s: %w", tag, err)
	}
	return records, nil
}

// Compare plans a delete for every tagged device outside the run
func (s *DeviceCleanupSyncer) Compare(run *interfaces.RunContext, target interfaces.Target, remote []models.Record) (interfaces.Plan, error) {
	if run.Options.CleanupScopeTag == "" {
		return nil, interfaces.ErrScopeTagRequired
	}
	devices, err := typed[models.Device](models.KindDevice, remote)
	if err != nil {
		return nil, err
	}

	p := &plan{kind: models.KindDevice}
	for _, d := range devices {
		// A list filter the remote ignored must not widen the cleanup
		if !d.HasTag(run.Options.CleanupScopeTag) {
			continue
		}
		if target.Scanned.Has(d.Key()) {
			p.skipped++
			continue
		}
		p.items = append(p.items, plannedItem{
			change: newChange(models.KindDevice, "", d.Key(), models.ActionDelete, nil),
			remote: d,
		})
	}
	return p, nil
}

// Apply implements interfaces.Reconciler
func (s *DeviceCleanupSyncer) Apply(ctx context.Context, run *interfaces.RunContext, pl interfaces.Plan) ([]models.Change, error) {
	p, err := asPlan(models.KindDevice, pl)
	if err != nil {
		return nil, err
	}

	deleted, result, err := applyBucket(ctx, run, models.KindDevice, models.ActionDelete, p.byAction(models.ActionDelete), deletePayload, nil)
	if err != nil {
		return nil, err
	}
	for _, res := range result.Applied {
		run.Cache.Invalidate(cache.DeviceByName(res.Key))
	}

	s.logger.Info("Removed stale devices", "tag", run.Options.CleanupScopeTag, "deleted", result.Deleted, "failed", result.Failed)
	return deleted, nil
}
