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

// VlanSyncer reconciles the VLANs a device carries and the 802.1Q
// assignment of its ports.
//
// VLANs are site scoped and shared by every device of the site, so their
// creation runs under the site lock and VLANs are never deleted. Port
// assignments are interface updates and reference VLANs by remote id.
type VlanSyncer struct {
	logger logr.Logger
}

// NewVlanSyncer creates a new VLAN syncer
func NewVlanSyncer(logger logr.Logger) *VlanSyncer {
	return &VlanSyncer{
		logger: logger.WithName("vlans"),
	}
}

// Kind implements interfaces.Reconciler
func (s *VlanSyncer) Kind() models.EntityKind { return models.KindVLAN }

// RunLevel implements interfaces.Reconciler
func (s *VlanSyncer) RunLevel() bool { return false }

// FetchRemote reads the site VLANs and the device ports through the cache.
// Both scopes are usually loaded already.
func (s *VlanSyncer) FetchRemote(ctx context.Context, run *interfaces.RunContext, target interfaces.Target) ([]models.Record, error) {
	var records []models.Record
	if site := target.Snapshot.Device.Site; site != "" {
		vlans, err := run.Cache.Records(ctx, cache.VLANsOfSite(site))
		if err != nil {
			return nil, err
		}
		records = append(records, vlans...)
	}

	ifaces, err := run.Cache.Records(ctx, cache.InterfacesOfDevice(target.Device()))
	if err != nil {
		return nil, err
	}
	return append(records, ifaces...), nil
}

// Compare implements interfaces.Reconciler
func (s *VlanSyncer) Compare(run *interfaces.RunContext, target interfaces.Target, remote []models.Record) (interfaces.Plan, error) {
	var remoteVlans []models.Vlan
	remoteIfaces := make(map[string]models.Interface)
	for _, r := range remote {
		switch rec := r.(type) {
		case models.Vlan:
			remoteVlans = append(remoteVlans, rec)
		case models.Interface:
			remoteIfaces[rec.Key()] = rec
		default:
			return nil, fmt.Errorf("%s: unexpected record type %T", models.KindVLAN, r)
		}
	}

	snap := target.Snapshot
	site := snap.Device.Site
	if site == "" && len(snap.VLANs) > 0 {
		return nil, fmt.Errorf("device %s has no site to scope its VLANs", target.Device())
	}

	local := make([]models.Vlan, 0, len(snap.VLANs))
	for _, v := range snap.VLANs {
		if v.Site == "" {
			v.Site = site
		}
		local = append(local, v)
	}

	fields := compare.Select(compare.VlanFields(), run.Options.FieldsFor(models.KindVLAN))
	diff, err := compare.Compare(models.KindVLAN, local, remoteVlans, models.Vlan.Key, fields)
	if err != nil {
		return nil, err
	}

	p := &plan{kind: models.KindVLAN, device: target.Device(), site: site}
	addDiff(p, diff, run.Options, false)

	if !run.Options.UpdateExisting {
		return p, nil
	}

	assignment := compare.Select(compare.InterfaceVlanFields(), run.Options.FieldsFor(models.KindVLAN))
	if len(run.Options.FieldsFor(models.KindVLAN)) > 0 && len(assignment) == 0 {
		return p, nil
	}
	for _, ifc := range snap.Interfaces {
		if ifc.Device == "" {
			ifc.Device = snap.Device.Name
		}
		current, ok := remoteIfaces[ifc.Key()]
		if !ok {
			current = models.Interface{Device: ifc.Device, Name: ifc.Name, TaggedVLANs: models.NewVlanSet()}
		}
		changes := compare.Changes(ifc, current, assignment)
		if len(changes) == 0 {
			p.skipped++
			continue
		}
		item := plannedItem{
			change: newChange(models.KindInterface, p.device, ifc.Key(), models.ActionUpdate, changes),
			local:  ifc,
		}
		if ok {
			item.remote = current
		}
		p.items = append(p.items, item)
	}
	return p, nil
}

// Apply implements interfaces.Reconciler
func (s *VlanSyncer) Apply(ctx context.Context, run *interfaces.RunContext, pl interfaces.Plan) ([]models.Change, error) {
	p, err := asPlan(models.KindVLAN, pl)
	if err != nil {
		return nil, err
	}

	var vlanCreates, vlanUpdates, assignments []plannedItem
	for _, it := range p.items {
		switch {
		case it.change.Kind == models.KindInterface:
			assignments = append(assignments, it)
		case it.change.Action == models.ActionCreate:
			vlanCreates = append(vlanCreates, it)
		case it.change.Action == models.ActionUpdate:
			vlanUpdates = append(vlanUpdates, it)
		}
	}

	var changes []models.Change
	if len(vlanCreates)+len(vlanUpdates) > 0 {
		vlanChanges, err := s.applyVlans(ctx, run, p.site, vlanCreates, vlanUpdates)
		if err != nil {
			return nil, err
		}
		changes = append(changes, vlanChanges...)
	}

	vlanScope := cache.VLANsOfSite(p.site)
	ifScope := cache.InterfacesOfDevice(p.device)
	assigned, _, err := applyBucket(ctx, run, models.KindInterface, models.ActionUpdate, assignments,
		func(ctx context.Context, it plannedItem) (ports.Payload, error) {
			ifc := it.local.(models.Interface)
			id, found, err := run.Cache.Get(ctx, ifScope, it.change.Key)
			if err != nil {
				return ports.Payload{}, err
			}
			if !found {
				return ports.Payload{}, &ports.NotFoundError{Kind: models.KindInterface, Key: it.change.Key}
			}

			payload := ports.Payload{Key: it.change.Key, ID: id, Record: ifc, Fields: it.fieldNames()}
			if ifc.UntaggedVLAN != nil {
				if payload.Refs.UntaggedVLANID, err = s.vlanID(ctx, run, vlanScope, p.site, *ifc.UntaggedVLAN); err != nil {
					return ports.Payload{}, err
				}
			}
			if ifc.Mode == models.ModeTagged {
				for _, vid := range ifc.TaggedVLANs.List() {
					vlanID, err := s.vlanID(ctx, run, vlanScope, p.site, vid)
					if err != nil {
						return ports.Payload{}, err
					}
					payload.Refs.TaggedVLANIDs = append(payload.Refs.TaggedVLANIDs, vlanID)
				}
			}
			return payload, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	changes = append(changes, assigned...)

	s.logger.V(1).Info("Applied VLANs", "device", p.device, "site", p.site, "changes", len(changes))
	return changes, nil
}

// applyVlans writes VLAN records under the site lock. A VLAN another device
// of the site created since the comparison is not created twice.
func (s *VlanSyncer) applyVlans(ctx context.Context, run *interfaces.RunContext, site string, creates, updates []plannedItem) ([]models.Change, error) {
	scope := cache.VLANsOfSite(site)
	unlock := run.Cache.LockSite(site)
	defer unlock()

	var changes []models.Change
	var pending []plannedItem
	for _, it := range creates {
		if _, found, _ := run.Cache.Lookup(scope, it.change.Key); found {
			s.logger.V(1).Info("VLAN already created by another device", "vlan", it.change.Key)
			changes = append(changes, withStatus(it.change, models.StatusSkipped, nil))
			continue
		}
		pending = append(pending, it)
	}

	created, result, err := applyBucket(ctx, run, models.KindVLAN, models.ActionCreate, pending,
		func(_ context.Context, it plannedItem) (ports.Payload, error) {
			return ports.Payload{Key: it.change.Key, Record: it.local}, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recordsOf(pending, result) {
		run.Cache.Put(scope, rec)
	}
	changes = append(changes, created...)

	updated, _, err := applyBucket(ctx, run, models.KindVLAN, models.ActionUpdate, updates,
		func(_ context.Context, it plannedItem) (ports.Payload, error) {
			return ports.Payload{Key: it.change.Key, ID: it.remoteID(), Record: it.local, Fields: it.fieldNames()}, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	return append(changes, updated...), nil
}

func (s *VlanSyncer) vlanID(ctx context.Context, run *interfaces.RunContext, scope cache.Scope, site string, vid int) (int64, error) {
	key := models.VlanKey(site, vid)
	if site == "" {
		return 0, &ports.NotFoundError{Kind: models.KindVLAN, Key: key}
	}
	id, found, err := run.Cache.Get(ctx, scope, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &ports.NotFoundError{Kind: models.KindVLAN, Key: key}
	}
	return id, nil
}
