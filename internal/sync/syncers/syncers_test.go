package syncers

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/infrastructure/repositories/mem"
	"netsync/internal/sync/cache"
	"netsync/internal/sync/interfaces"
	"netsync/internal/sync/synchronizer"
	"netsync/internal/sync/utils"
)

func newRun(inv *mem.Inventory, opts interfaces.Options) *interfaces.RunContext {
	return &interfaces.RunContext{
		RunID:     "test",
		Options:   opts,
		Inventory: inv,
		Cache:     cache.NewReferenceCache(inv, logr.Discard()),
		Applier: synchronizer.NewBatchApplier(inv, synchronizer.BatchApplyConfig{
			BatchSize: 50,
			Retry:     utils.NoRetryConfig(),
		}, nil, logr.Discard()),
		Logger: logr.Discard(),
	}
}

func planFor(t *testing.T, run *interfaces.RunContext, r interfaces.Reconciler, target interfaces.Target) interfaces.Plan {
	t.Helper()
	remote, err := r.FetchRemote(context.Background(), run, target)
	require.NoError(t, err)
	p, err := r.Compare(run, target, remote)
	require.NoError(t, err)
	return p
}

func reconcile(t *testing.T, run *interfaces.RunContext, r interfaces.Reconciler, target interfaces.Target) []models.Change {
	t.Helper()
	changes, err := r.Apply(context.Background(), run, planFor(t, run, r, target))
	require.NoError(t, err)
	return changes
}

func statuses(changes []models.Change) map[string]models.ChangeStatus {
	out := make(map[string]models.ChangeStatus, len(changes))
	for _, c := range changes {
		out[c.Key] = c.Status
	}
	return out
}

func TestDeviceSyncer_CreateTagsAndConverges(t *testing.T) {
	inv := mem.NewInventory()
	opts := interfaces.DefaultOptions()
	opts.CleanupScopeTag = "netsync"
	run := newRun(inv, opts)
	s := NewDeviceSyncer(logr.Discard())

	snap := &models.Snapshot{Device: models.Device{Name: "Leaf1", Site: "dc1", Model: "DCS-7050"}}
	target := interfaces.Target{Snapshot: snap}

	changes := reconcile(t, run, s, target)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ActionCreate, changes[0].Action)
	assert.Equal(t, models.StatusApplied, changes[0].Status)

	recs := inv.DB().Records(models.KindDevice)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].(models.Device).HasTag("netsync"))

	id, found, err := run.Cache.Get(context.Background(), cache.DeviceByName("leaf1"), "leaf1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, recs[0].RemoteID(), id)

	assert.True(t, planFor(t, newRun(inv, opts), s, target).Empty())
}

func TestDeviceSyncer_UpdateWritesChangedFieldsOnly(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1", Site: "dc1", Model: "old", Serial: "S1"}))
	run := newRun(inv, interfaces.DefaultOptions())

	snap := &models.Snapshot{Device: models.Device{Name: "leaf1", Site: "dc1", Model: "new", Serial: "S1"}}
	changes := reconcile(t, run, NewDeviceSyncer(logr.Discard()), interfaces.Target{Snapshot: snap})

	require.Len(t, changes, 1)
	assert.Equal(t, models.ActionUpdate, changes[0].Action)
	require.Len(t, changes[0].Fields, 1)
	assert.Equal(t, "model", changes[0].Fields[0].Name)
	assert.Equal(t, "new", inv.DB().Records(models.KindDevice)[0].(models.Device).Model)
}

func TestInterfaceSyncer_AggregatesFirstAndMacPass(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1", Site: "dc1"}))
	run := newRun(inv, interfaces.DefaultOptions())
	s := NewInterfaceSyncer(utils.NoRetryConfig(), logr.Discard())

	snap := &models.Snapshot{
		Device: models.Device{Name: "leaf1", Site: "dc1"},
		Interfaces: []models.Interface{
			{Name: "Gi0/1", Enabled: true, LAGParent: ptr.To("Po1"), MAC: ptr.To("AA:BB:CC:00:00:01")},
			{Name: "Po1", Type: models.InterfaceTypeLAG, Enabled: true},
		},
	}
	target := interfaces.Target{Snapshot: snap}

	changes := reconcile(t, run, s, target)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, models.StatusApplied, c.Status, c.Key)
	}

	member, err := inv.Get(context.Background(), models.KindInterface, models.InterfaceKey("leaf1", "Gi0/1"))
	require.NoError(t, err)
	ifc := member.(models.Interface)
	require.NotNil(t, ifc.LAGParent)
	assert.True(t, models.SameInterface("Po1", *ifc.LAGParent))
	require.NotNil(t, ifc.MAC)
	assert.Equal(t, 1, inv.Calls(models.KindInterface, utils.OpUpdate), "one mac update")

	assert.True(t, planFor(t, newRun(inv, interfaces.DefaultOptions()), s, target).Empty())
}

func TestInterfaceSyncer_MacFailureIsFollowUpFailure(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1"}))
	inv.FailCalls(models.KindInterface, utils.OpUpdate, &ports.RejectedError{StatusCode: 400, Message: "bad mac"}, 0)
	run := newRun(inv, interfaces.DefaultOptions())

	snap := &models.Snapshot{
		Device:     models.Device{Name: "leaf1"},
		Interfaces: []models.Interface{{Name: "Gi0/1", MAC: ptr.To("aa:bb:cc:00:00:01")}},
	}
	changes := reconcile(t, run, NewInterfaceSyncer(utils.NoRetryConfig(), logr.Discard()), interfaces.Target{Snapshot: snap})

	require.Len(t, changes, 1)
	assert.Equal(t, models.StatusFailed, changes[0].Status)
	assert.Contains(t, changes[0].Error, "written, follow-up failed")
	assert.Equal(t, 1, inv.DB().Count(models.KindInterface))
}

func TestInterfaceSyncer_CleanupIsGated(t *testing.T) {
	seed := func() *mem.Inventory {
		inv := mem.NewInventory()
		require.NoError(t, inv.Seed(
			models.Device{ID: 1, Name: "leaf1"},
			models.Interface{ID: 2, Device: "leaf1", Name: "Gi0/9"},
		))
		return inv
	}
	snap := &models.Snapshot{Device: models.Device{Name: "leaf1"}}
	s := NewInterfaceSyncer(utils.NoRetryConfig(), logr.Discard())

	t.Run("off", func(t *testing.T) {
		inv := seed()
		changes := reconcile(t, newRun(inv, interfaces.DefaultOptions()), s, interfaces.Target{Snapshot: snap})
		assert.Empty(t, changes)
		assert.Equal(t, 1, inv.DB().Count(models.KindInterface))
	})

	t.Run("on", func(t *testing.T) {
		inv := seed()
		opts := interfaces.DefaultOptions()
		opts.CleanupStale = map[models.EntityKind]bool{models.KindInterface: true}
		changes := reconcile(t, newRun(inv, opts), s, interfaces.Target{Snapshot: snap})
		require.Len(t, changes, 1)
		assert.Equal(t, models.ActionDelete, changes[0].Action)
		assert.Equal(t, 0, inv.DB().Count(models.KindInterface))
	})
}

func TestVlanSyncer_CreatesVlansThenAssignments(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(
		models.Device{ID: 1, Name: "leaf1", Site: "dc1"},
		models.Interface{ID: 11, Device: "leaf1", Name: "Gi0/1", TaggedVLANs: models.NewVlanSet()},
		models.Interface{ID: 12, Device: "leaf1", Name: "Gi0/2", TaggedVLANs: models.NewVlanSet()},
		models.Vlan{ID: 100, Site: "dc1", VID: 10, Name: "users"},
	))
	run := newRun(inv, interfaces.DefaultOptions())
	s := NewVlanSyncer(logr.Discard())

	snap := &models.Snapshot{
		Device: models.Device{Name: "leaf1", Site: "dc1"},
		VLANs:  []models.Vlan{{VID: 10, Name: "users"}, {VID: 30, Name: "mgmt"}},
		Interfaces: []models.Interface{
			{Name: "Gi0/1", Mode: models.ModeAccess, UntaggedVLAN: ptr.To(30), TaggedVLANs: models.NewVlanSet()},
			{Name: "Gi0/2", Mode: models.ModeTagged, TaggedVLANs: models.NewVlanSet(10, 30)},
		},
	}
	target := interfaces.Target{Snapshot: snap}

	changes := reconcile(t, run, s, target)
	st := statuses(changes)
	assert.Equal(t, models.StatusApplied, st["dc1|30"])
	assert.Equal(t, models.StatusApplied, st[models.InterfaceKey("leaf1", "Gi0/1")])
	assert.Equal(t, models.StatusApplied, st[models.InterfaceKey("leaf1", "Gi0/2")])

	rec, err := inv.Get(context.Background(), models.KindInterface, models.InterfaceKey("leaf1", "Gi0/2"))
	require.NoError(t, err)
	assert.True(t, rec.(models.Interface).TaggedVLANs.Equal(models.NewVlanSet(10, 30)))
	assert.Equal(t, 2, inv.DB().Count(models.KindVLAN))

	assert.True(t, planFor(t, newRun(inv, interfaces.DefaultOptions()), s, target).Empty())
}

func TestVlanSyncer_ConcurrentlyCreatedVlanIsSkipped(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(
		models.Device{ID: 1, Name: "leaf1", Site: "dc1"},
		models.Interface{ID: 11, Device: "leaf1", Name: "Gi0/1", TaggedVLANs: models.NewVlanSet()},
	))
	run := newRun(inv, interfaces.DefaultOptions())
	s := NewVlanSyncer(logr.Discard())

	snap := &models.Snapshot{
		Device:     models.Device{Name: "leaf1", Site: "dc1"},
		VLANs:      []models.Vlan{{VID: 30, Name: "mgmt"}},
		Interfaces: []models.Interface{{Name: "Gi0/1", Mode: models.ModeAccess, UntaggedVLAN: ptr.To(30)}},
	}
	p := planFor(t, run, s, interfaces.Target{Snapshot: snap})

	// another device of the site wins the race
	other := models.Vlan{ID: 555, Site: "dc1", VID: 30, Name: "mgmt"}
	require.NoError(t, inv.Seed(other))
	run.Cache.Put(cache.VLANsOfSite("dc1"), other)

	changes, err := s.Apply(context.Background(), run, p)
	require.NoError(t, err)
	st := statuses(changes)
	assert.Equal(t, models.StatusSkipped, st["dc1|30"])
	assert.Equal(t, models.StatusApplied, st[models.InterfaceKey("leaf1", "Gi0/1")])
	assert.Equal(t, 1, inv.DB().Count(models.KindVLAN))
	assert.Zero(t, inv.Calls(models.KindVLAN, utils.OpBulkCreate))
}

func TestVlanSyncer_MissingSiteFailsKind(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1"}))
	run := newRun(inv, interfaces.DefaultOptions())
	s := NewVlanSyncer(logr.Discard())

	target := interfaces.Target{Snapshot: &models.Snapshot{
		Device: models.Device{Name: "leaf1"},
		VLANs:  []models.Vlan{{VID: 10}},
	}}
	remote, err := s.FetchRemote(context.Background(), run, target)
	require.NoError(t, err)
	_, err = s.Compare(run, target, remote)
	assert.Error(t, err)
}

func TestIPAddressSyncer_PrimaryFlag(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(
		models.Device{ID: 1, Name: "leaf1"},
		models.Interface{ID: 11, Device: "leaf1", Name: "Gi0/1"},
		models.IPAddress{ID: 20, Device: "leaf1", Address: "10.0.0.2/32", Interface: "Gi0/1", Primary: true},
	))
	run := newRun(inv, interfaces.DefaultOptions())
	s := NewIPAddressSyncer(utils.NoRetryConfig(), logr.Discard())

	snap := &models.Snapshot{
		Device: models.Device{Name: "leaf1"},
		IPAddresses: []models.IPAddress{
			{Address: "10.0.0.1", Interface: "Gi0/1", Primary: true},
			{Address: "10.0.0.2/32", Interface: "Gi0/1"},
		},
	}
	target := interfaces.Target{Snapshot: snap}

	changes := reconcile(t, run, s, target)
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, models.StatusApplied, c.Status, c.Key)
	}

	addrs, err := ports.ListAs[models.IPAddress](context.Background(), inv, models.KindIPAddress, ports.DeviceFilter("leaf1"))
	require.NoError(t, err)
	primary := map[string]bool{}
	for _, a := range addrs {
		primary[a.Address] = a.Primary
	}
	assert.Equal(t, map[string]bool{"10.0.0.1/32": true, "10.0.0.2/32": false}, primary)

	assert.True(t, planFor(t, newRun(inv, interfaces.DefaultOptions()), s, target).Empty())
}

func TestIPAddressSyncer_UnresolvedInterfaceIsSkipped(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1"}))
	run := newRun(inv, interfaces.DefaultOptions())

	snap := &models.Snapshot{
		Device:      models.Device{Name: "leaf1"},
		IPAddresses: []models.IPAddress{{Address: "10.0.0.1/32", Interface: "Vlan100"}},
	}
	changes := reconcile(t, run, NewIPAddressSyncer(utils.NoRetryConfig(), logr.Discard()), interfaces.Target{Snapshot: snap})

	require.Len(t, changes, 1)
	assert.Equal(t, models.StatusSkipped, changes[0].Status)
	assert.Contains(t, changes[0].Error, "not found")
	assert.Equal(t, 0, inv.DB().Count(models.KindIPAddress))
}

func TestIPAddressSyncer_UnknownDeviceFailsKind(t *testing.T) {
	inv := mem.NewInventory()
	run := newRun(inv, interfaces.DefaultOptions())
	s := NewIPAddressSyncer(utils.NoRetryConfig(), logr.Discard())

	snap := &models.Snapshot{
		Device:      models.Device{Name: "ghost"},
		IPAddresses: []models.IPAddress{{Address: "10.0.0.1/32"}},
	}
	target := interfaces.Target{Snapshot: snap}
	p := planFor(t, run, s, target)
	_, err := s.Apply(context.Background(), run, p)
	assert.True(t, ports.IsNotFound(err))
}

func TestCableSyncer_ProtectsUnscannedEnds(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(
		models.Device{ID: 1, Name: "leaf1"},
		models.Device{ID: 2, Name: "spine1"},
		models.Device{ID: 3, Name: "leaf2"},
		models.Interface{ID: 11, Device: "leaf1", Name: "Eth1"},
		models.Interface{ID: 12, Device: "leaf1", Name: "Eth2"},
		models.Interface{ID: 21, Device: "spine1", Name: "Eth1"},
		models.Interface{ID: 22, Device: "spine1", Name: "Eth2"},
		models.Interface{ID: 23, Device: "spine1", Name: "Eth3"},
		models.Interface{ID: 31, Device: "leaf2", Name: "Eth1"},
	))
	// stale with both ends scanned, and one reaching an unscanned device
	ctx := context.Background()
	_, err := inv.Create(ctx, models.KindCable, ports.Payload{Refs: ports.Refs{AInterfaceID: 12, BInterfaceID: 22}})
	require.NoError(t, err)
	_, err = inv.Create(ctx, models.KindCable, ports.Payload{Refs: ports.Refs{AInterfaceID: 23, BInterfaceID: 31}})
	require.NoError(t, err)

	opts := interfaces.DefaultOptions()
	opts.CleanupStale = map[models.EntityKind]bool{models.KindCable: true}
	run := newRun(inv, opts)

	leaf1 := &models.Snapshot{
		Device:     models.Device{Name: "leaf1"},
		Interfaces: []models.Interface{{Name: "Eth1"}, {Name: "Eth2"}},
		Neighbors:  []models.NeighborObservation{{LocalInterface: "Eth1", RemoteHostname: "spine1", RemotePort: "Eth1"}},
	}
	spine1 := &models.Snapshot{
		Device:     models.Device{Name: "spine1"},
		Interfaces: []models.Interface{{Name: "Eth1"}, {Name: "Eth2"}, {Name: "Eth3"}},
		Neighbors:  []models.NeighborObservation{{LocalInterface: "Eth1", RemoteHostname: "leaf1", RemotePort: "Eth1"}},
	}
	target := interfaces.Target{
		Snapshots: []*models.Snapshot{leaf1, spine1},
		Scanned:   sets.New("leaf1", "spine1"),
	}

	changes := reconcile(t, run, NewCableSyncer(logr.Discard()), target)

	actions := map[models.Action]int{}
	for _, c := range changes {
		assert.Equal(t, models.StatusApplied, c.Status, c.Key)
		actions[c.Action]++
	}
	assert.Equal(t, map[models.Action]int{models.ActionCreate: 1, models.ActionDelete: 1}, actions)

	cables, err := ports.ListAs[models.Cable](ctx, inv, models.KindCable, ports.Filter{})
	require.NoError(t, err)
	keys := sets.New[string]()
	for _, c := range cables {
		keys.Insert(c.Key())
	}
	assert.True(t, keys.Has(models.NewCable(
		models.CableEndpoint{Device: "leaf1", Interface: "Eth1"},
		models.CableEndpoint{Device: "spine1", Interface: "Eth1"}).Key()))
	assert.True(t, keys.Has(models.NewCable(
		models.CableEndpoint{Device: "spine1", Interface: "Eth3"},
		models.CableEndpoint{Device: "leaf2", Interface: "Eth1"}).Key()), "cable to an unscanned device is kept")
}

func TestCableSyncer_ResolvesPeersOutsideTheRun(t *testing.T) {
	tests := []struct {
		name string
		peer string
		seed []models.Record
		obs  models.NeighborObservation
		want int
	}{
		{
			name: "fqdn of a short named device",
			peer: "spine1",
			obs:  models.NeighborObservation{RemoteHostname: "spine1.corp.example", RemoteManagementIP: "10.9.9.9", RemotePort: "Ethernet1"},
			want: 1,
		},
		{
			name: "management ip of a differently named device",
			peer: "spine-01",
			seed: []models.Record{models.IPAddress{ID: 30, Device: "spine-01", Address: "10.9.9.9/32", Primary: true}},
			obs:  models.NeighborObservation{RemoteHostname: "spine1", RemoteManagementIP: "10.9.9.9", RemotePort: "Ethernet1"},
			want: 1,
		},
		{
			name: "chassis mac",
			peer: "spine-01",
			seed: []models.Record{models.Interface{ID: 22, Device: "spine-01", Name: "Management1", MAC: ptr.To("00:1c:73:aa:bb:cc")}},
			obs:  models.NeighborObservation{RemoteChassisMAC: "001c.73aa.bbcc", RemotePort: "Ethernet1"},
			want: 1,
		},
		{
			name: "nothing matches",
			peer: "spine-01",
			obs:  models.NeighborObservation{RemoteHostname: "spine1", RemoteManagementIP: "10.9.9.8", RemotePort: "Ethernet1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := mem.NewInventory()
			require.NoError(t, inv.Seed(
				models.Device{ID: 1, Name: "leaf1"},
				models.Device{ID: 2, Name: tt.peer},
				models.Interface{ID: 11, Device: "leaf1", Name: "Eth1"},
				models.Interface{ID: 21, Device: tt.peer, Name: "Eth1"},
			))
			require.NoError(t, inv.Seed(tt.seed...))
			run := newRun(inv, interfaces.DefaultOptions())

			obs := tt.obs
			obs.LocalInterface = "Ethernet1"
			leaf1 := &models.Snapshot{
				Device:     models.Device{Name: "leaf1"},
				Interfaces: []models.Interface{{Name: "Ethernet1"}},
				Neighbors:  []models.NeighborObservation{obs},
			}
			target := interfaces.Target{Snapshots: []*models.Snapshot{leaf1}, Scanned: sets.New("leaf1")}

			changes := reconcile(t, run, NewCableSyncer(logr.Discard()), target)
			require.Len(t, changes, tt.want)
			if tt.want == 0 {
				return
			}
			assert.Equal(t, models.ActionCreate, changes[0].Action)
			assert.Equal(t, models.StatusApplied, changes[0].Status)
			assert.Equal(t, models.NewCable(
				models.CableEndpoint{Device: "leaf1", Interface: "Eth1"},
				models.CableEndpoint{Device: tt.peer, Interface: "Eth1"}).Key(), changes[0].Key)
			assert.Equal(t, 1, inv.DB().Count(models.KindCable))
		})
	}
}

func TestInventoryItemSyncer_ResolvesManufacturer(t *testing.T) {
	inv := mem.NewInventory()
	require.NoError(t, inv.Seed(models.Device{ID: 1, Name: "leaf1"}))
	run := newRun(inv, interfaces.DefaultOptions())
	s := NewInventoryItemSyncer(logr.Discard())

	snap := &models.Snapshot{
		Device:         models.Device{Name: "leaf1"},
		InventoryItems: []models.InventoryItem{{Name: "Ethernet1 transceiver", PartID: "FTLX8571D3BCL", Serial: "X1"}},
	}
	target := interfaces.Target{Snapshot: snap}

	changes := reconcile(t, run, s, target)
	require.Len(t, changes, 1)
	assert.Equal(t, models.StatusApplied, changes[0].Status)

	items := inv.DB().Records(models.KindInventoryItem)
	require.Len(t, items, 1)
	assert.Equal(t, "Finisar", items[0].(models.InventoryItem).Manufacturer)

	assert.True(t, planFor(t, newRun(inv, interfaces.DefaultOptions()), s, target).Empty())
}

func TestDeviceCleanupSyncer(t *testing.T) {
	seed := func() *mem.Inventory {
		inv := mem.NewInventory()
		require.NoError(t, inv.Seed(
			models.Device{ID: 1, Name: "leaf1", Tags: []string{"netsync"}},
			models.Device{ID: 2, Name: "leaf-old", Tags: []string{"netsync"}},
			models.Device{ID: 3, Name: "manual"},
		))
		return inv
	}
	s := NewDeviceCleanupSyncer(logr.Discard())
	target := interfaces.Target{Scanned: sets.New("leaf1")}

	t.Run("requires a tag", func(t *testing.T) {
		run := newRun(seed(), interfaces.DefaultOptions())
		_, err := s.FetchRemote(context.Background(), run, target)
		assert.ErrorIs(t, err, interfaces.ErrScopeTagRequired)
	})

	t.Run("deletes tagged devices outside the run", func(t *testing.T) {
		inv := seed()
		opts := interfaces.DefaultOptions()
		opts.CleanupScopeTag = "netsync"
		opts.CleanupStale = map[models.EntityKind]bool{models.KindDevice: true}

		changes := reconcile(t, newRun(inv, opts), s, target)
		require.Len(t, changes, 1)
		assert.Equal(t, "leaf-old", changes[0].Key)
		assert.Equal(t, models.ActionDelete, changes[0].Action)
		assert.Equal(t, 2, inv.DB().Count(models.KindDevice))
	})
}
