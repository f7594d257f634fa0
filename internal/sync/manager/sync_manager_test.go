package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/infrastructure/repositories/mem"
	"netsync/internal/sync/interfaces"
	"netsync/internal/sync/monitoring"
	"netsync/internal/sync/report"
	"netsync/internal/sync/synchronizer"
	"netsync/internal/sync/utils"
)

// MockChangeLog is a mock implementation of ports.ChangeLog
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

func testConfig(workers int) Config {
	return Config{
		MaxConcurrentDevices: workers,
		DeviceTimeout:        time.Minute,
		Batch: synchronizer.BatchApplyConfig{
			BatchSize: 50,
			Retry:     utils.NoRetryConfig(),
		},
	}
}

// orderedInventory records the kind of every create call in order
type orderedInventory struct {
	ports.RemoteInventory

	mu    sync.Mutex
	kinds []models.EntityKind
}

func (o *orderedInventory) record(kind models.EntityKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func (o *orderedInventory) BulkCreate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	o.record(kind)
	return o.RemoteInventory.BulkCreate(ctx, kind, items)
}

func (o *orderedInventory) Create(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	o.record(kind)
	return o.RemoteInventory.Create(ctx, kind, item)
}

func (o *orderedInventory) created() []models.EntityKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.EntityKind(nil), o.kinds...)
}

func fabric() []*models.Snapshot {
	return []*models.Snapshot{
		{
			Device: models.Device{Name: "leaf1", Site: "dc1", Model: "DCS-7050"},
			Interfaces: []models.Interface{
				{Name: "Ethernet1", Enabled: true, Mode: models.ModeAccess, UntaggedVLAN: ptr.To(10)},
				{Name: "Ethernet2", Enabled: true, Mode: models.ModeTagged, TaggedVLANs: models.NewVlanSet(10, 20)},
				{Name: "Ethernet3", Enabled: true},
			},
			IPAddresses: []models.IPAddress{{Address: "10.0.0.1/32", Interface: "Ethernet1", Primary: true}},
			VLANs:       []models.Vlan{{VID: 10, Name: "users"}, {VID: 20, Name: "voice"}},
			Neighbors: []models.NeighborObservation{
				{LocalInterface: "Ethernet3", RemoteHostname: "spine1", RemotePort: "Ethernet1"},
			},
			InventoryItems: []models.InventoryItem{{Name: "Ethernet3 transceiver", PartID: "FTLX8571D3BCL", Serial: "X1"}},
		},
		{
			Device:     models.Device{Name: "spine1", Site: "dc1", Model: "DCS-7280"},
			Interfaces: []models.Interface{{Name: "Ethernet1", Enabled: true}},
			Neighbors: []models.NeighborObservation{
				{LocalInterface: "Ethernet1", RemoteHostname: "leaf1", RemotePort: "Ethernet3"},
			},
		},
	}
}

func deviceReport(t *testing.T, rep *report.Report, device string) report.DeviceReport {
	t.Helper()
	for _, d := range rep.Devices() {
		if d.Device == device {
			return d
		}
	}
	t.Fatalf("device %s not in report", device)
	return report.DeviceReport{}
}

func TestOrchestrator_ApplyThenDryRunIsClean(t *testing.T) {
	inv := mem.NewInventory()
	o := NewOrchestrator(inv, testConfig(4), logr.Discard())
	ctx := context.Background()

	rep, err := o.RunApply(ctx, fabric(), interfaces.DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, rep.Errors())
	assert.Equal(t, report.OutcomeChanged, rep.Outcome())

	summary := rep.Summary()
	assert.Equal(t, 2, summary[models.KindDevice].Created)
	assert.Equal(t, 4, summary[models.KindInterface].Created)
	assert.Equal(t, 1, summary[models.KindIPAddress].Created)
	assert.Equal(t, 1, summary[models.KindCable].Created)
	assert.Equal(t, 1, summary[models.KindInventoryItem].Created)
	assert.Equal(t, 2, inv.DB().Count(models.KindVLAN))
	assert.Equal(t, 1, inv.DB().Count(models.KindCable))

	inv.ResetCalls()
	rep, err = o.RunDryRun(ctx, fabric(), interfaces.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, rep.IsClean(), "changes after apply: %v", rep.Changes())
	assert.Equal(t, report.OutcomeClean, rep.Outcome())
	assert.Zero(t, inv.Writes())
}

func TestOrchestrator_DryRunWritesNothing(t *testing.T) {
	inv := mem.NewInventory()
	o := NewOrchestrator(inv, testConfig(2), logr.Discard())

	rep, err := o.RunDryRun(context.Background(), fabric(), interfaces.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.True(t, rep.HasChanges())
	assert.Zero(t, inv.Writes())
	assert.Zero(t, inv.DB().Count(models.KindDevice))

	for _, c := range rep.Changes() {
		assert.Equal(t, models.StatusPlanned, c.Status, c.Key)
	}
}

func TestOrchestrator_DryRunPlansWhatApplyWrites(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1", Site: "dc1", Model: "old"}))
	o := NewOrchestrator(inv, testConfig(1), logr.Discard())
	opts := interfaces.Options{
		Kinds:          []models.EntityKind{models.KindDevice},
		CreateMissing:  true,
		UpdateExisting: true,
	}

	planned, err := o.RunDryRun(context.Background(), fabric(), opts)
	require.NoError(t, err)
	applied, err := o.RunApply(context.Background(), fabric(), opts)
	require.NoError(t, err)

	key := func(c models.Change) string { return string(c.Action) + " " + c.Key }
	var want, got []string
	for _, c := range planned.Changes() {
		want = append(want, key(c))
	}
	for _, c := range applied.Changes() {
		got = append(got, key(c))
	}
	assert.ElementsMatch(t, want, got)
	assert.Equal(t, planned.Summary(), applied.Summary())
}

func TestOrchestrator_DependencyFailureSkipsDependents(t *testing.T) {
	inv := mem.NewInventory()
	// one worker keeps leaf1 first, so it takes the single failure
	inv.FailCalls(models.KindInterface, utils.OpList, &ports.RejectedError{StatusCode: 400, Message: "bad filter"}, 1)
	o := NewOrchestrator(inv, testConfig(1), logr.Discard())

	snaps := fabric()
	snaps = append(snaps, &models.Snapshot{
		Device:     models.Device{Name: "leaf2", Site: "dc1"},
		Interfaces: []models.Interface{{Name: "Ethernet1"}},
	})

	rep, err := o.RunApply(context.Background(), snaps, interfaces.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeFailed, rep.Outcome())
	assert.Equal(t, []string{"leaf1"}, rep.FailedDevices())

	leaf1 := deviceReport(t, rep, "leaf1")
	assert.Contains(t, leaf1.FailedKinds, models.KindInterface)
	assert.ElementsMatch(t,
		[]models.EntityKind{models.KindIPAddress, models.KindVLAN, models.KindCable},
		leaf1.SkippedKinds)

	// inventory items only need the device
	items := inv.DB().Records(models.KindInventoryItem)
	require.Len(t, items, 1)

	leaf2 := deviceReport(t, rep, "leaf2")
	assert.Equal(t, report.DeviceOK, leaf2.Status)
	_, err = inv.Get(context.Background(), models.KindInterface, models.InterfaceKey("leaf2", "Ethernet1"))
	assert.NoError(t, err)

	// no cable was created toward the failed device
	assert.Zero(t, inv.DB().Count(models.KindCable))
}

func TestOrchestrator_CancelledRunSchedulesNothing(t *testing.T) {
	inv := mem.NewInventory()
	o := NewOrchestrator(inv, testConfig(2), logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := o.RunApply(ctx, fabric(), interfaces.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, rep)
	assert.False(t, rep.FinishedAt.IsZero())

	for _, d := range rep.Devices() {
		assert.Equal(t, report.DeviceCancelled, d.Status, d.Device)
	}
	assert.Zero(t, inv.Writes())
}

func TestOrchestrator_DeviceCleanup(t *testing.T) {
	seed := func() *mem.Inventory {
		inv := mem.NewInventory()
		require.NoError(t, inv.Seed(
			models.Device{ID: 1, Name: "retired", Site: "dc1", Tags: []string{"netsync"}},
			models.Device{ID: 2, Name: "manual", Site: "dc1"},
			models.Device{ID: 3, Name: "elsewhere", Site: "dc2", Tags: []string{"netsync"}},
		))
		return inv
	}
	snaps := []*models.Snapshot{{Device: models.Device{Name: "leaf1", Site: "dc1"}}}

	t.Run("requires a tag", func(t *testing.T) {
		inv := seed()
		opts := interfaces.DefaultOptions()
		opts.CleanupStale = map[models.EntityKind]bool{models.KindDevice: true}

		rep, err := NewOrchestrator(inv, testConfig(1), logr.Discard()).RunApply(context.Background(), snaps, opts)
		assert.ErrorIs(t, err, interfaces.ErrScopeTagRequired)
		assert.Nil(t, rep)
		assert.Zero(t, inv.Writes())
	})

	t.Run("deletes tagged devices in scope", func(t *testing.T) {
		inv := seed()
		opts := interfaces.DefaultOptions()
		opts.CleanupStale = map[models.EntityKind]bool{models.KindDevice: true}
		opts.CleanupScopeTag = "netsync"
		opts.Scope = ports.SiteFilter("dc1")

		rep, err := NewOrchestrator(inv, testConfig(1), logr.Discard()).RunApply(context.Background(), snaps, opts)
		require.NoError(t, err)
		assert.Empty(t, rep.Errors())

		names := map[string]bool{}
		for _, rec := range inv.DB().Records(models.KindDevice) {
			names[rec.Key()] = true
		}
		assert.Equal(t, map[string]bool{"leaf1": true, "manual": true, "elsewhere": true}, names)
		assert.Equal(t, 1, rep.Summary()[models.KindDevice].Deleted)
	})
}

func TestOrchestrator_ScopeFiltersSnapshots(t *testing.T) {
	inv := mem.NewInventory()
	o := NewOrchestrator(inv, testConfig(2), logr.Discard())

	snaps := append(fabric(), &models.Snapshot{Device: models.Device{Name: "edge1", Site: "dc2"}})
	opts := interfaces.DefaultOptions()
	opts.Kinds = []models.EntityKind{models.KindDevice}
	opts.Scope = ports.SiteFilter("dc2")

	rep, err := o.RunApply(context.Background(), snaps, opts)
	require.NoError(t, err)
	require.Len(t, rep.Devices(), 1)
	assert.Equal(t, "edge1", rep.Devices()[0].Device)
	assert.Equal(t, 1, inv.DB().Count(models.KindDevice))
}

func TestOrchestrator_DuplicateHostnameIsConflict(t *testing.T) {
	inv := mem.NewInventory()
	o := NewOrchestrator(inv, testConfig(1), logr.Discard())

	snaps := []*models.Snapshot{
		{Device: models.Device{Name: "leaf1"}},
		{Device: models.Device{Name: "LEAF1"}},
	}
	opts := interfaces.DefaultOptions()
	opts.Kinds = []models.EntityKind{models.KindDevice}

	rep, err := o.RunApply(context.Background(), snaps, opts)
	require.NoError(t, err)
	errs := rep.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, models.KindDevice, errs[0].Kind)
	assert.Equal(t, 1, inv.DB().Count(models.KindDevice))
}

func TestOrchestrator_PartialBatchIsolatesItems(t *testing.T) {
	inv := mem.NewInventory()
	inv.RejectKey(models.KindVLAN, "dc1|20", "vid reserved")
	o := NewOrchestrator(inv, testConfig(1), logr.Discard())

	rep, err := o.RunApply(context.Background(), fabric(), interfaces.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeFailed, rep.Outcome())

	vlans := map[string]models.ChangeStatus{}
	for _, c := range rep.Changes() {
		if c.Kind == models.KindVLAN && c.Action == models.ActionCreate {
			vlans[c.Key] = c.Status
		}
	}
	assert.Equal(t, models.StatusApplied, vlans["dc1|10"])
	assert.Equal(t, models.StatusFailed, vlans["dc1|20"])
	assert.Equal(t, 1, inv.DB().Count(models.KindVLAN))

	// an item failure does not block the kinds after it
	assert.Equal(t, 1, inv.DB().Count(models.KindCable))
}

func TestOrchestrator_RejectedRecordsAreReported(t *testing.T) {
	inv := mem.NewInventory()
	reg := prometheus.NewRegistry()
	o := NewOrchestrator(inv, testConfig(1), logr.Discard(), WithMetrics(monitoring.NewMetrics(reg)))

	snaps := []*models.Snapshot{{
		Device: models.Device{Name: "leaf1"},
		Rejected: []models.RejectedRecord{{
			Kind: models.KindVLAN,
			Key:  "leaf1|Ethernet9",
			Err:  &models.FormatError{Field: "trunk vlans", Value: "1-x"},
		}},
	}}
	opts := interfaces.DefaultOptions()
	opts.Kinds = []models.EntityKind{models.KindDevice}

	rep, err := o.RunDryRun(context.Background(), snaps, opts)
	require.NoError(t, err)
	assert.True(t, rep.HasErrors())
	assert.Equal(t, 1, rep.Summary()[models.KindVLAN].Failed)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOrchestrator_ChangeLog(t *testing.T) {
	t.Run("appends applied changes", func(t *testing.T) {
		inv := mem.NewInventory()
		log := mem.NewChangeLog()
		o := NewOrchestrator(inv, testConfig(2), logr.Discard(), WithChangeLog(log))

		rep, err := o.RunApply(context.Background(), fabric(), interfaces.DefaultOptions())
		require.NoError(t, err)

		entries := log.Entries(rep.RunID)
		assert.Len(t, entries, len(rep.Changes()))
		for _, e := range entries {
			assert.NotEqual(t, models.StatusPlanned, e.Change.Status)
		}

		_, err = o.RunDryRun(context.Background(), fabric(), interfaces.DefaultOptions())
		require.NoError(t, err)
		assert.Len(t, log.Entries(""), len(entries), "dry-run appends nothing")
	})

	t.Run("append failure is not a run failure", func(t *testing.T) {
		inv := mem.NewInventory()
		log := new(MockChangeLog)
		log.On("Append", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(errors.New("db down"))
		o := NewOrchestrator(inv, testConfig(1), logr.Discard(), WithChangeLog(log))

		opts := interfaces.DefaultOptions()
		opts.Kinds = []models.EntityKind{models.KindDevice}
		rep, err := o.RunApply(context.Background(), fabric(), opts)
		require.NoError(t, err)
		assert.Empty(t, rep.Errors())
		log.AssertNumberOfCalls(t, "Append", 2)
	})
}

func TestOrchestrator_UnresolvedReferenceIsIncomplete(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1", Site: "dc1"}))
	o := NewOrchestrator(inv, testConfig(1), logr.Discard())

	snaps := []*models.Snapshot{{
		Device:      models.Device{Name: "leaf1", Site: "dc1"},
		IPAddresses: []models.IPAddress{{Address: "10.0.0.1/24", Interface: "Gi9/9"}},
	}}
	opts := interfaces.DefaultOptions()
	opts.Kinds = []models.EntityKind{models.KindIPAddress}

	rep, err := o.RunApply(context.Background(), snaps, opts)
	require.NoError(t, err)
	assert.False(t, rep.IsClean())
	assert.False(t, rep.HasErrors())
	assert.Equal(t, report.OutcomeIncomplete, rep.Outcome())
	require.Len(t, rep.SkippedWithErrors(), 1)
	assert.Equal(t, models.KindIPAddress, rep.SkippedWithErrors()[0].Kind)
	assert.Zero(t, inv.DB().Count(models.KindIPAddress))
}

func TestOrchestrator_CablesBeforeInventoryItems(t *testing.T) {
	inv := &orderedInventory{RemoteInventory: mem.NewInventory()}
	o := NewOrchestrator(inv, testConfig(4), logr.Discard())

	rep, err := o.RunApply(context.Background(), fabric(), interfaces.DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, rep.Errors())

	lastCable, firstItem := -1, -1
	for i, kind := range inv.created() {
		switch kind {
		case models.KindCable:
			lastCable = i
		case models.KindInventoryItem:
			if firstItem < 0 {
				firstItem = i
			}
		}
	}
	require.GreaterOrEqual(t, lastCable, 0)
	require.GreaterOrEqual(t, firstItem, 0)
	assert.Less(t, lastCable, firstItem, "inventory items are written after cables")
}
