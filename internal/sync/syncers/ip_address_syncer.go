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
	"netsync/internal/sync/types"
	"netsync/internal/sync/utils"
)

// IPAddressSyncer reconciles the addresses assigned to a device's ports.
// The primary flag lives on the device record and is written in a second
// pass once the address has an id.
type IPAddressSyncer struct {
	retry  utils.RetryConfig
	logger logr.Logger
}

// NewIPAddressSyncer creates a new IP address syncer
func NewIPAddressSyncer(retry utils.RetryConfig, logger logr.Logger) *IPAddressSyncer {
	return &IPAddressSyncer{
		retry:  retry,
		logger: logger.WithName("ip-addresses"),
	}
}

// Kind implements interfaces.Reconciler
func (s *IPAddressSyncer) Kind() models.EntityKind { return models.KindIPAddress }

// RunLevel implements interfaces.Reconciler
func (s *IPAddressSyncer) RunLevel() bool { return false }

// FetchRemote implements interfaces.Reconciler
func (s *IPAddressSyncer) FetchRemote(ctx context.Context, run *interfaces.RunContext, target interfaces.Target) ([]models.Record, error) {
	records, err := run.Inventory.List(ctx, models.KindIPAddress, ports.DeviceFilter(target.Device()))
	if err != nil {
		return nil, fmt.Errorf("list addresses of %s: %w", target.Device(), err)
	}
	return records, nil
}

// Compare implements interfaces.Reconciler
func (s *IPAddressSyncer) Compare(run *interfaces.RunContext, target interfaces.Target, remote []models.Record) (interfaces.Plan, error) {
	remoteAddrs, err := typed[models.IPAddress](models.KindIPAddress, remote)
	if err != nil {
		return nil, err
	}

	snap := target.Snapshot
	local := make([]models.IPAddress, 0, len(snap.IPAddresses))
	for _, a := range snap.IPAddresses {
		if a.Device == "" {
			a.Device = snap.Device.Name
		}
		a.Address = models.NormalizePrefix(a.Address)
		local = append(local, a)
	}

	fields := compare.Select(compare.IPAddressFields(), run.Options.FieldsFor(models.KindIPAddress))
	diff, err := compare.Compare(models.KindIPAddress, local, remoteAddrs, models.IPAddress.Key, fields)
	if err != nil {
		return nil, err
	}

	p := &plan{kind: models.KindIPAddress, device: target.Device(), site: snap.Device.Site}
	addDiff(p, diff, run.Options, run.Options.Cleanup(models.KindIPAddress))
	return p, nil
}

// Apply implements interfaces.Reconciler
func (s *IPAddressSyncer) Apply(ctx context.Context, run *interfaces.RunContext, pl interfaces.Plan) ([]models.Change, error) {
	p, err := asPlan(models.KindIPAddress, pl)
	if err != nil {
		return nil, err
	}
	devID, err := deviceID(ctx, run, p.device)
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", p.device, err)
	}
	ifScope := cache.InterfacesOfDevice(p.device)

	build := func(ctx context.Context, it plannedItem, fields []string) (ports.Payload, error) {
		addr := it.local.(models.IPAddress)
		payload := ports.Payload{
			Key:    it.change.Key,
			ID:     it.remoteID(),
			Record: addr,
			Fields: fields,
			Refs:   ports.Refs{DeviceID: devID},
		}
		if addr.Interface != "" {
			key := models.InterfaceKey(p.device, addr.Interface)
			id, found, err := run.Cache.Get(ctx, ifScope, key)
			if err != nil {
				return ports.Payload{}, err
			}
			if !found {
				return ports.Payload{}, &ports.NotFoundError{Kind: models.KindInterface, Key: key}
			}
			payload.Refs.InterfaceID = id
		}
		return payload, nil
	}

	createFields := compare.Names(compare.Exclude(compare.IPAddressFields(), compare.FieldPrimary))
	creates := p.byAction(models.ActionCreate)
	created, _, err := applyBucket(ctx, run, models.KindIPAddress, models.ActionCreate, creates,
		func(ctx context.Context, it plannedItem) (ports.Payload, error) {
			return build(ctx, it, createFields)
		}, s.primaryPass(run, devID, creates))
	if err != nil {
		return nil, err
	}

	// Updates that only move the primary flag skip the address write
	var writes, primaryOnly []plannedItem
	for _, it := range p.byAction(models.ActionUpdate) {
		if len(it.change.Fields) == 1 && it.changedField(compare.FieldPrimary) {
			primaryOnly = append(primaryOnly, it)
		} else {
			writes = append(writes, it)
		}
	}

	updated, _, err := applyBucket(ctx, run, models.KindIPAddress, models.ActionUpdate, writes,
		func(ctx context.Context, it plannedItem) (ports.Payload, error) {
			var fields []string
			for _, name := range it.fieldNames() {
				if name != compare.FieldPrimary {
					fields = append(fields, name)
				}
			}
			return build(ctx, it, fields)
		}, s.primaryPass(run, devID, writes))
	if err != nil {
		return nil, err
	}

	flagged := s.applyPrimaryOnly(ctx, run, devID, primaryOnly)

	deleted, _, err := applyBucket(ctx, run, models.KindIPAddress, models.ActionDelete, p.byAction(models.ActionDelete), deletePayload, nil)
	if err != nil {
		return nil, err
	}

	changes := append(append(append(created, updated...), flagged...), deleted...)
	s.logger.V(1).Info("Applied addresses", "device", p.device, "changes", len(changes))
	return changes, nil
}

// primaryPass sets the primary flag of written addresses whose flag is new
// or changed
func (s *IPAddressSyncer) primaryPass(run *interfaces.RunContext, devID int64, items []plannedItem) func(ctx context.Context, applied []ports.Result) []types.ItemError {
	byKey := make(map[string]plannedItem, len(items))
	for _, it := range items {
		byKey[it.change.Key] = it
	}

	return func(ctx context.Context, applied []ports.Result) []types.ItemError {
		var errs []types.ItemError
		for _, res := range applied {
			it, ok := byKey[res.Key]
			if !ok {
				continue
			}
			addr := it.local.(models.IPAddress)
			if it.change.Action == models.ActionCreate && !addr.Primary {
				continue
			}
			if it.change.Action == models.ActionUpdate && !it.changedField(compare.FieldPrimary) {
				continue
			}
			if err := s.setPrimary(ctx, run, devID, res.Key, res.ID, addr); err != nil {
				errs = append(errs, types.ItemError{Key: res.Key, Err: err})
			}
		}
		return errs
	}
}

func (s *IPAddressSyncer) applyPrimaryOnly(ctx context.Context, run *interfaces.RunContext, devID int64, items []plannedItem) []models.Change {
	changes := make([]models.Change, 0, len(items))
	for _, it := range items {
		err := s.setPrimary(ctx, run, devID, it.change.Key, it.remoteID(), it.local.(models.IPAddress))
		if err != nil {
			changes = append(changes, withStatus(it.change, models.StatusFailed, err))
			continue
		}
		changes = append(changes, withStatus(it.change, models.StatusApplied, nil))
	}
	return changes
}

func (s *IPAddressSyncer) setPrimary(ctx context.Context, run *interfaces.RunContext, devID int64, key string, id int64, addr models.IPAddress) error {
	err := utils.ExecuteWithRetry(ctx, s.retry, func() error {
		res, err := run.Inventory.Update(ctx, models.KindIPAddress, ports.Payload{
			Key:    key,
			ID:     id,
			Record: addr,
			Fields: []string{compare.FieldPrimary},
			Refs:   ports.Refs{DeviceID: devID},
		})
		if err == nil && res.Err != nil {
			err = res.Err
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("set primary address: %w", err)
	}
	return nil
}
