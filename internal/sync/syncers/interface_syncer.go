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
	"netsync/internal/sync/synchronizer"
	"netsync/internal/sync/types"
	"netsync/internal/sync/utils"
)

// vlanAssignmentFields are reconciled by the VLAN syncer, after the VLANs
// they reference exist
var vlanAssignmentFields = []string{compare.FieldMode, compare.FieldUntaggedVLAN, compare.FieldTaggedVLANs}

// InterfaceSyncer reconciles the ports of each polled device.
//
// Aggregates are created before their members so members can reference
// them, and MAC addresses of new ports are assigned in a second pass since
// the inventory does not accept them on create.
type InterfaceSyncer struct {
	retry  utils.RetryConfig
	logger logr.Logger
}

// NewInterfaceSyncer creates a new interface syncer
func NewInterfaceSyncer(retry utils.RetryConfig, logger logr.Logger) *InterfaceSyncer {
	return &InterfaceSyncer{
		retry:  retry,
		logger: logger.WithName("interfaces"),
	}
}

// Kind implements interfaces.Reconciler
func (s *InterfaceSyncer) Kind() models.EntityKind { return models.KindInterface }

// RunLevel implements interfaces.Reconciler
func (s *InterfaceSyncer) RunLevel() bool { return false }

// FetchRemote lists the interfaces of the device and primes its scope so
// later kinds resolve interface ids without another call
func (s *InterfaceSyncer) FetchRemote(ctx context.Context, run *interfaces.RunContext, target interfaces.Target) ([]models.Record, error) {
	device := target.Device()
	records, err := run.Inventory.List(ctx, models.KindInterface, ports.DeviceFilter(device))
	if err != nil {
		return nil, fmt.Errorf("list interfaces of %s: %w", device, err)
	}
	run.Cache.Prime(cache.InterfacesOfDevice(device), records)
	return records, nil
}

// Compare implements interfaces.Reconciler
func (s *InterfaceSyncer) Compare(run *interfaces.RunContext, target interfaces.Target, remote []models.Record) (interfaces.Plan, error) {
	remoteIfaces, err := typed[models.Interface](models.KindInterface, remote)
	if err != nil {
		return nil, err
	}

	snap := target.Snapshot
	local := make([]models.Interface, 0, len(snap.Interfaces))
	for _, ifc := range snap.Interfaces {
		if ifc.Device == "" {
			ifc.Device = snap.Device.Name
		}
		if ifc.LAGParent != nil && !snap.HasInterface(*ifc.LAGParent) {
			s.logger.V(1).Info("Dropping unknown aggregate parent", "device", target.Device(),
				"interface", ifc.Name, "parent", *ifc.LAGParent)
			ifc.LAGParent = nil
		}
		local = append(local, ifc)
	}

	fields := compare.Exclude(
		compare.Select(compare.InterfaceFields(), run.Options.FieldsFor(models.KindInterface)),
		vlanAssignmentFields...)
	diff, err := compare.Compare(models.KindInterface, local, remoteIfaces, models.Interface.Key, fields)
	if err != nil {
		return nil, err
	}

	p := &plan{kind: models.KindInterface, device: target.Device(), site: snap.Device.Site}
	addDiff(p, diff, run.Options, run.Options.Cleanup(models.KindInterface))
	return p, nil
}

// Apply implements interfaces.Reconciler
func (s *InterfaceSyncer) Apply(ctx context.Context, run *interfaces.RunContext, pl interfaces.Plan) ([]models.Change, error) {
	p, err := asPlan(models.KindInterface, pl)
	if err != nil {
		return nil, err
	}
	devID, err := deviceID(ctx, run, p.device)
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", p.device, err)
	}
	scope := cache.InterfacesOfDevice(p.device)

	var changes []models.Change

	created := s.applyCreates(ctx, run, scope, devID, p.byAction(models.ActionCreate))
	changes = append(changes, created...)

	updated, _, err := applyBucket(ctx, run, models.KindInterface, models.ActionUpdate, p.byAction(models.ActionUpdate),
		func(ctx context.Context, it plannedItem) (ports.Payload, error) {
			ifc := it.local.(models.Interface)
			payload := ports.Payload{
				Key:    it.change.Key,
				ID:     it.remoteID(),
				Record: ifc,
				Fields: it.fieldNames(),
				Refs:   ports.Refs{DeviceID: devID},
			}
			if it.changedField(compare.FieldLAG) && ifc.LAGParent != nil {
				parentKey := models.InterfaceKey(ifc.Device, *ifc.LAGParent)
				id, found, err := run.Cache.Get(ctx, scope, parentKey)
				if err != nil {
					return ports.Payload{}, err
				}
				if !found {
					return ports.Payload{}, &ports.NotFoundError{Kind: models.KindInterface, Key: parentKey}
				}
				payload.Refs.LAGID = id
			}
			return payload, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	changes = append(changes, updated...)

	changes = append(changes, s.applyDeletes(ctx, run, scope, p.byAction(models.ActionDelete))...)

	s.logger.V(1).Info("Applied interfaces", "device", p.device, "changes", len(changes))
	return changes, nil
}

// applyCreates writes aggregates, then members with their aggregate id, then
// assigns MAC addresses to whatever was created
func (s *InterfaceSyncer) applyCreates(ctx context.Context, run *interfaces.RunContext, scope cache.Scope, devID int64, items []plannedItem) []models.Change {
	if len(items) == 0 {
		return nil
	}

	fields := compare.Names(compare.Exclude(compare.InterfaceFields(),
		append([]string{compare.FieldMAC}, vlanAssignmentFields...)...))

	localByKey := make(map[string]models.Interface, len(items))
	var lags, members []ports.Payload
	for _, it := range items {
		ifc := it.local.(models.Interface)
		localByKey[it.change.Key] = ifc
		payload := ports.Payload{
			Key:    it.change.Key,
			Record: ifc,
			Fields: fields,
			Refs:   ports.Refs{DeviceID: devID},
		}
		if ifc.IsLAG() {
			lags = append(lags, payload)
		} else {
			members = append(members, payload)
		}
	}

	phases := []synchronizer.Phase{
		{Name: "aggregates", Items: lags},
		{Name: "members", Items: members, Prepare: func(items []ports.Payload, earlier *types.ApplyResult) []ports.Payload {
			for i := range items {
				ifc := items[i].Record.(models.Interface)
				if ifc.LAGParent == nil {
					continue
				}
				parentKey := models.InterfaceKey(ifc.Device, *ifc.LAGParent)
				if res, ok := earlier.Result(parentKey); ok {
					items[i].Refs.LAGID = res.ID
					continue
				}
				if id, found, _ := run.Cache.Lookup(scope, parentKey); found {
					items[i].Refs.LAGID = id
					continue
				}
				s.logger.Info("Aggregate parent unavailable, creating member without it",
					"interface", items[i].Key, "parent", parentKey)
			}
			return items
		}},
	}

	macPass := func(ctx context.Context, applied []ports.Result) []types.ItemError {
		var errs []types.ItemError
		for _, res := range applied {
			ifc, ok := localByKey[res.Key]
			if !ok || ifc.MAC == nil {
				continue
			}
			err := utils.ExecuteWithRetry(ctx, s.retry, func() error {
				r, err := run.Inventory.Update(ctx, models.KindInterface, ports.Payload{
					Key:    res.Key,
					ID:     res.ID,
					Record: ifc,
					Fields: []string{compare.FieldMAC},
					Refs:   ports.Refs{DeviceID: devID},
				})
				if err == nil && r.Err != nil {
					err = r.Err
				}
				return err
			})
			if err != nil {
				errs = append(errs, types.ItemError{Key: res.Key, Err: fmt.Errorf("assign mac address: %w", err)})
			}
		}
		return errs
	}

	result := run.Applier.ApplyPhases(ctx, models.KindInterface, models.ActionCreate, phases, macPass)

	for _, rec := range recordsOf(items, result) {
		ifc := rec.(models.Interface)
		ifc.Mode = models.ModeNone
		ifc.UntaggedVLAN = nil
		ifc.TaggedVLANs = models.NewVlanSet()
		run.Cache.Put(scope, ifc)
	}
	return settle(items, nil, result)
}

// applyDeletes removes members before aggregates
func (s *InterfaceSyncer) applyDeletes(ctx context.Context, run *interfaces.RunContext, scope cache.Scope, items []plannedItem) []models.Change {
	if len(items) == 0 {
		return nil
	}

	var lags, members []ports.Payload
	for _, it := range items {
		payload, _ := deletePayload(ctx, it)
		if it.remote.(models.Interface).IsLAG() {
			lags = append(lags, payload)
		} else {
			members = append(members, payload)
		}
	}

	result := run.Applier.ApplyPhases(ctx, models.KindInterface, models.ActionDelete, []synchronizer.Phase{
		{Name: "members", Items: members},
		{Name: "aggregates", Items: lags},
	}, nil)

	for _, res := range result.Applied {
		run.Cache.Remove(scope, res.Key)
	}
	return settle(items, nil, result)
}
