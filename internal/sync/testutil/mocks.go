package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

// MockRemoteInventory is a testify mock of ports.RemoteInventory
type MockRemoteInventory struct {
	mock.Mock
}

func (m *MockRemoteInventory) List(ctx context.Context, kind models.EntityKind, filter ports.Filter) ([]models.Record, error) {
	args := m.Called(ctx, kind, filter)
	records, _ := args.Get(0).([]models.Record)
	return records, args.Error(1)
}

func (m *MockRemoteInventory) Get(ctx context.Context, kind models.EntityKind, key string) (models.Record, error) {
	args := m.Called(ctx, kind, key)
	record, _ := args.Get(0).(models.Record)
	return record, args.Error(1)
}

func (m *MockRemoteInventory) BulkCreate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	args := m.Called(ctx, kind, items)
	results, _ := args.Get(0).([]ports.Result)
	return results, args.Error(1)
}

func (m *MockRemoteInventory) BulkUpdate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	args := m.Called(ctx, kind, items)
	results, _ := args.Get(0).([]ports.Result)
	return results, args.Error(1)
}

func (m *MockRemoteInventory) BulkDelete(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	args := m.Called(ctx, kind, items)
	results, _ := args.Get(0).([]ports.Result)
	return results, args.Error(1)
}

func (m *MockRemoteInventory) Create(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	args := m.Called(ctx, kind, item)
	return args.Get(0).(ports.Result), args.Error(1)
}

func (m *MockRemoteInventory) Update(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	args := m.Called(ctx, kind, item)
	return args.Get(0).(ports.Result), args.Error(1)
}

func (m *MockRemoteInventory) Delete(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	args := m.Called(ctx, kind, item)
	return args.Get(0).(ports.Result), args.Error(1)
}

// MockChangeLog is a testify mock of ports.ChangeLog
type MockChangeLog struct {
	mock.Mock
}

func (m *MockChangeLog) Append(ctx context.Context, runID string, changes []models.Change) error {
	args := m.Called(ctx, runID, changes)
	return args.Error(0)
}

func (m *MockChangeLog) Close() error {
	args := m.Called()
	return args.Error(0)
}
