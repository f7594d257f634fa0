package syncers

import (
	"context"
	"fmt"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/cache"
	"netsync/internal/sync/compare"
	"netsync/internal/sync/interfaces"
	"netsync/internal/sync/synchronizer"
	"netsync/internal/sync/types"
)

// plannedItem pairs a planned change with the records it was derived from
type plannedItem struct {
	change models.Change
	local  models.Record
	// remote is nil for creates
	remote models.Record
}

// remoteID returns the id of the remote counterpart
func (it plannedItem) remoteID() int64 {
	if it.remote == nil {
		return 0
	}
	return it.remote.RemoteID()
}

// fieldNames returns the names of the changed fields
func (it plannedItem) fieldNames() []string {
	names := make([]string, 0, len(it.change.Fields))
	for _, f := range it.change.Fields {
		names = append(names, f.Name)
	}
	return names
}

// changedField reports whether name is among the changed fields
func (it plannedItem) changedField(name string) bool {
	for _, f := range it.change.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// plan implements interfaces.Plan
type plan struct {
	kind    models.EntityKind
	device  string
	site    string
	items   []plannedItem
	skipped int
}

func (p *plan) Kind() models.EntityKind { return p.kind }
func (p *plan) Device() string          { return p.device }
func (p *plan) Skipped() int            { return p.skipped }
func (p *plan) Empty() bool             { return len(p.items) == 0 }

func (p *plan) Changes() []models.Change {
	changes := make([]models.Change, 0, len(p.items))
	for _, it := range p.items {
		changes = append(changes, it.change)
	}
	return changes
}

// byAction returns the items of one action in plan order
func (p *plan) byAction(action models.Action) []plannedItem {
	var out []plannedItem
	for _, it := range p.items {
		if it.change.Action == action {
			out = append(out, it)
		}
	}
	return out
}

// asPlan unwraps a plan produced by this package
func asPlan(kind models.EntityKind, p interfaces.Plan) (*plan, error) {
	typed, ok := p.(*plan)
	if !ok || typed.kind != kind {
		return nil, fmt.Errorf("%s: unexpected plan %T", kind, p)
	}
	return typed, nil
}

// addDiff appends the creates, updates and realized deletes of diff,
// honoring the run's create and update toggles
func addDiff[T models.Record](p *plan, diff *compare.Diff[T], opts interfaces.Options, cleanup bool) {
	if opts.CreateMissing {
		for _, l := range diff.Create {
			p.items = append(p.items, plannedItem{
				change: newChange(p.kind, p.device, l.Key(), models.ActionCreate, nil),
				local:  l,
			})
		}
	}
	if opts.UpdateExisting {
		for _, pair := range diff.Update {
			p.items = append(p.items, plannedItem{
				change: newChange(p.kind, p.device, pair.Local.Key(), models.ActionUpdate, pair.Changes),
				local:  pair.Local,
				remote: pair.Remote,
			})
		}
	}
	p.skipped += len(diff.Skip)
	if cleanup {
		for _, r := range diff.DeleteCandidates {
			p.items = append(p.items, plannedItem{
				change: newChange(p.kind, p.device, r.Key(), models.ActionDelete, nil),
				remote: r,
			})
		}
	}
}

func newChange(kind models.EntityKind, device, key string, action models.Action, fields []models.FieldChange) models.Change {
	return models.Change{
		Kind:   kind,
		Device: device,
		Key:    key,
		Action: action,
		Fields: fields,
		Status: models.StatusPlanned,
	}
}

// typed asserts every record to T
func typed[T models.Record](kind models.EntityKind, records []models.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		t, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected record type %T", kind, r)
		}
		out = append(out, t)
	}
	return out, nil
}

// payloadFunc builds the write payload of one item. A NotFoundError skips
// the item; any other error fails the kind.
type payloadFunc func(ctx context.Context, item plannedItem) (ports.Payload, error)

// prepared holds the items that produced a payload and the final changes of
// the ones that did not
type prepared struct {
	items    []plannedItem
	payloads []ports.Payload
	skipped  map[string]models.Change
}

func prepare(ctx context.Context, items []plannedItem, build payloadFunc) (*prepared, error) {
	out := &prepared{skipped: make(map[string]models.Change)}
	for _, it := range items {
		payload, err := build(ctx, it)
		if err != nil {
			if ports.IsNotFound(err) {
				out.skipped[it.change.Key] = withStatus(it.change, models.StatusSkipped, err)
				continue
			}
			return nil, err
		}
		out.items = append(out.items, it)
		out.payloads = append(out.payloads, payload)
	}
	return out, nil
}

// settle maps an apply result back onto the planned changes, in plan order
func settle(items []plannedItem, skipped map[string]models.Change, result *types.ApplyResult) []models.Change {
	changes := make([]models.Change, 0, len(items))
	for _, it := range items {
		key := it.change.Key
		if c, ok := skipped[key]; ok {
			changes = append(changes, c)
			continue
		}
		_, applied := result.Result(key)
		err := result.Error(key)
		switch {
		case applied && err != nil:
			changes = append(changes, withStatus(it.change, models.StatusFailed, fmt.Errorf("written, follow-up failed: %w", err)))
		case applied:
			changes = append(changes, withStatus(it.change, models.StatusApplied, nil))
		case err != nil:
			changes = append(changes, withStatus(it.change, models.StatusFailed, err))
		default:
			changes = append(changes, withStatus(it.change, models.StatusSkipped, nil))
		}
	}
	return changes
}

// applyBucket prepares and writes one action of a plan
func applyBucket(ctx context.Context, run *interfaces.RunContext, kind models.EntityKind, action models.Action,
	items []plannedItem, build payloadFunc, secondary synchronizer.SecondaryPass) ([]models.Change, *types.ApplyResult, error) {
	if len(items) == 0 {
		return nil, types.NewApplyResult(kind, action), nil
	}
	prep, err := prepare(ctx, items, build)
	if err != nil {
		return nil, nil, err
	}
	result := run.Applier.Apply(ctx, kind, action, prep.payloads, secondary)
	return settle(items, prep.skipped, result), result, nil
}

func withStatus(c models.Change, status models.ChangeStatus, err error) models.Change {
	c.Status = status
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// deletePayload builds the payload of a delete
func deletePayload(_ context.Context, item plannedItem) (ports.Payload, error) {
	return ports.Payload{Key: item.change.Key, ID: item.remoteID(), Record: item.remote}, nil
}

// recordsOf returns the local records of applied items with their new ids
func recordsOf(items []plannedItem, result *types.ApplyResult) []models.Record {
	var out []models.Record
	for _, it := range items {
		res, ok := result.Result(it.change.Key)
		if !ok || it.local == nil {
			continue
		}
		out = append(out, withRemoteID(it.local, res.ID))
	}
	return out
}

// withRemoteID returns a copy of rec carrying id
func withRemoteID(rec models.Record, id int64) models.Record {
	switch r := rec.(type) {
	case models.Device:
		r.ID = id
		return r
	case models.Interface:
		r.ID = id
		return r
	case models.IPAddress:
		r.ID = id
		return r
	case models.Vlan:
		r.ID = id
		return r
	case models.Cable:
		r.ID = id
		return r
	case models.InventoryItem:
		r.ID = id
		return r
	default:
		return rec
	}
}

// deviceID resolves the remote id of device through the cache
func deviceID(ctx context.Context, run *interfaces.RunContext, device string) (int64, error) {
	key := models.DeviceKey(device)
	id, found, err := run.Cache.Get(ctx, cache.DeviceByName(key), key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &ports.NotFoundError{Kind: models.KindDevice, Key: key}
	}
	return id, nil
}
