package syncers

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/compare"
	"netsync/internal/sync/interfaces"
)

// InventoryItemSyncer reconciles the hardware modules of each device
type InventoryItemSyncer struct {
	logger logr.Logger
}

// NewInventoryItemSyncer creates a new inventory item syncer
func NewInventoryItemSyncer(logger logr.Logger) *InventoryItemSyncer {
	return &InventoryItemSyncer{
		logger: logger.WithName("inventory-items"),
	}
}

// Kind implements interfaces.Reconciler
func (s *InventoryItemSyncer) Kind() models.EntityKind { return models.KindInventoryItem }

// RunLevel implements interfaces.Reconciler
func (s *InventoryItemSyncer) RunLevel() bool { return false }

// FetchRemote implements interfaces.Reconciler
func (s *InventoryItemSyncer) FetchRemote(ctx context.Context, run *interfaces.RunContext, target interfaces.Target) ([]models.Record, error) {
	records, err := run.Inventory.List(ctx, models.KindInventoryItem, ports.DeviceFilter(target.Device()))
	if err != nil {
		return nil, fmt.Errorf("list inventory items of %s: %w", target.Device(), err)
	}
	return records, nil
}

// Compare implements interfaces.Reconciler
func (s *InventoryItemSyncer) Compare(run *interfaces.RunContext, target interfaces.Target, remote []models.Record) (interfaces.Plan, error) {
	remoteItems, err := typed[models.InventoryItem](models.KindInventoryItem, remote)
	if err != nil {
		return nil, err
	}

	snap := target.Snapshot
	local := make([]models.InventoryItem, 0, len(snap.InventoryItems))
	for _, it := range snap.InventoryItems {
		if it.Device == "" {
			it.Device = snap.Device.Name
		}
		if it.Manufacturer == "" {
			it.Manufacturer = models.ResolveManufacturer(it.PartID)
		}
		local = append(local, it)
	}

	fields := compare.Select(compare.InventoryItemFields(), run.Options.FieldsFor(models.KindInventoryItem))
	diff, err := compare.Compare(models.KindInventoryItem, local, remoteItems, models.InventoryItem.Key, fields)
	if err != nil {
		return nil, err
	}

	p := &plan{kind: models.KindInventoryItem, device: target.Device(), site: snap.Device.Site}
	addDiff(p, diff, run.Options, run.Options.Cleanup(models.KindInventoryItem))
	return p, nil
}

// Apply implements interfaces.Reconciler
func (s *InventoryItemSyncer) Apply(ctx context.Context, run *interfaces.RunContext, pl interfaces.Plan) ([]models.Change, error) {
	p, err := asPlan(models.KindInventoryItem, pl)
	if err != nil {
		return nil, err
	}
	devID, err := deviceID(ctx, run, p.device)
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", p.device, err)
	}

	created, _, err := applyBucket(ctx, run, models.KindInventoryItem, models.ActionCreate, p.byAction(models.ActionCreate),
		func(_ context.Context, it plannedItem) (ports.Payload, error) {
			return ports.Payload{Key: it.change.Key, Record: it.local, Refs: ports.Refs{DeviceID: devID}}, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	updated, _, err := applyBucket(ctx, run, models.KindInventoryItem, models.ActionUpdate, p.byAction(models.ActionUpdate),
		func(_ context.Context, it plannedItem) (ports.Payload, error) {
			return ports.Payload{
				Key:    it.change.Key,
				ID:     it.remoteID(),
				Record: it.local,
				Fields: it.fieldNames(),
				Refs:   ports.Refs{DeviceID: devID},
			}, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	deleted, _, err := applyBucket(ctx, run, models.KindInventoryItem, models.ActionDelete, p.byAction(models.ActionDelete), deletePayload, nil)
	if err != nil {
		return nil, err
	}

	return append(append(created, updated...), deleted...), nil
}
