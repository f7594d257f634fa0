package syncers

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/cache"
	"netsync/internal/sync/compare"
	"netsync/internal/sync/interfaces"
)

// DeviceSyncer reconciles the device record of each polled device
type DeviceSyncer struct {
	logger logr.Logger
}

// NewDeviceSyncer creates a new device syncer
func NewDeviceSyncer(logger logr.Logger) *DeviceSyncer {
	return &DeviceSyncer{
		logger: logger.WithName("devices"),
	}
}

// Kind implements interfaces.Reconciler
func (s *DeviceSyncer) Kind() models.EntityKind { return models.KindDevice }

// RunLevel implements interfaces.Reconciler
func (s *DeviceSyncer) RunLevel() bool { return false }

// FetchRemote lists the device by name and primes the device scope
func (s *DeviceSyncer) FetchRemote(ctx context.Context, run *interfaces.RunContext, target interfaces.Target) ([]models.Record, error) {
	device := target.Device()
	records, err := run.Inventory.List(ctx, models.KindDevice, ports.DeviceFilter(device))
	if err != nil {
		return nil, fmt.Errorf("list device %s: %w", device, err)
	}
	run.Cache.Prime(cache.DeviceByName(device), records)
	return records, nil
}

// Compare implements interfaces.Reconciler
func (s *DeviceSyncer) Compare(run *interfaces.RunContext, target interfaces.Target, remote []models.Record) (interfaces.Plan, error) {
	remoteDevices, err := typed[models.Device](models.KindDevice, remote)
	if err != nil {
		return nil, err
	}

	local := target.Snapshot.Device
	if tag := run.Options.CleanupScopeTag; tag != "" && !local.HasTag(tag) {
		local.Tags = append(append([]string(nil), local.Tags...), tag)
	}

	fields := compare.Select(compare.DeviceFields(), run.Options.FieldsFor(models.KindDevice))
	diff, err := compare.Compare(models.KindDevice, []models.Device{local}, remoteDevices, models.Device.Key, fields)
	if err != nil {
		return nil, err
	}

	p := &plan{kind: models.KindDevice, device: target.Device(), site: local.Site}
	addDiff(p, diff, run.Options, false)
	return p, nil
}

// Apply implements interfaces.Reconciler
func (s *DeviceSyncer) Apply(ctx context.Context, run *interfaces.RunContext, pl interfaces.Plan) ([]models.Change, error) {
	p, err := asPlan(models.KindDevice, pl)
	if err != nil {
		return nil, err
	}
	scope := cache.DeviceByName(p.device)

	creates := p.byAction(models.ActionCreate)
	created, result, err := applyBucket(ctx, run, models.KindDevice, models.ActionCreate, creates,
		func(_ context.Context, it plannedItem) (ports.Payload, error) {
			return ports.Payload{Key: it.change.Key, Record: it.local}, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recordsOf(creates, result) {
		run.Cache.Put(scope, rec)
	}

	updated, _, err := applyBucket(ctx, run, models.KindDevice, models.ActionUpdate, p.byAction(models.ActionUpdate),
		func(_ context.Context, it plannedItem) (ports.Payload, error) {
			return ports.Payload{Key: it.change.Key, ID: it.remoteID(), Record: it.local, Fields: it.fieldNames()}, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	s.logger.V(1).Info("Applied device", "device", p.device, "created", len(created), "updated", len(updated))
	return append(created, updated...), nil
}
