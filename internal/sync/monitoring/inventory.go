package monitoring

import (
	"context"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/utils"
)

// meteredInventory counts every call of the wrapped inventory
type meteredInventory struct {
	next    ports.RemoteInventory
	metrics *Metrics
}

// InstrumentInventory wraps inv so each remote call is counted. A nil
// metrics returns inv unchanged.
func InstrumentInventory(inv ports.RemoteInventory, metrics *Metrics) ports.RemoteInventory {
	if metrics == nil {
		return inv
	}
	return &meteredInventory{next: inv, metrics: metrics}
}

func (m *meteredInventory) List(ctx context.Context, kind models.EntityKind, filter ports.Filter) ([]models.Record, error) {
	records, err := m.next.List(ctx, kind, filter)
	m.metrics.ObserveCall(kind, utils.OpList, err)
	return records, err
}

func (m *meteredInventory) Get(ctx context.Context, kind models.EntityKind, key string) (models.Record, error) {
	record, err := m.next.Get(ctx, kind, key)
	m.metrics.ObserveCall(kind, "get", err)
	return record, err
}

func (m *meteredInventory) BulkCreate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	results, err := m.next.BulkCreate(ctx, kind, items)
	m.metrics.ObserveCall(kind, utils.OpBulkCreate, err)
	return results, err
}

func (m *meteredInventory) BulkUpdate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	results, err := m.next.BulkUpdate(ctx, kind, items)
	m.metrics.ObserveCall(kind, utils.OpBulkUpdate, err)
	return results, err
}

func (m *meteredInventory) BulkDelete(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	results, err := m.next.BulkDelete(ctx, kind, items)
	m.metrics.ObserveCall(kind, utils.OpBulkDelete, err)
	return results, err
}

func (m *meteredInventory) Create(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	result, err := m.next.Create(ctx, kind, item)
	m.metrics.ObserveCall(kind, utils.OpCreate, err)
	return result, err
}

func (m *meteredInventory) Update(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	result, err := m.next.Update(ctx, kind, item)
	m.metrics.ObserveCall(kind, utils.OpUpdate, err)
	return result, err
}

func (m *meteredInventory) Delete(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	result, err := m.next.Delete(ctx, kind, item)
	m.metrics.ObserveCall(kind, utils.OpDelete, err)
	return result, err
}
