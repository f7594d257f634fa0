package mem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/utils"
)

func seeded(t *testing.T) *Inventory {
	t.Helper()
	inv := NewInventory()
	require.NoError(t, inv.Seed(
		models.Device{ID: 1, Name: "leaf1", Site: "dc1", Tags: []string{"netsync"}},
		models.Device{ID: 2, Name: "leaf2", Site: "dc2"},
		models.Interface{ID: 10, Device: "leaf1", Name: "Po1", Type: models.InterfaceTypeLAG},
		models.Interface{ID: 11, Device: "leaf1", Name: "Gi0/1"},
		models.Interface{ID: 20, Device: "leaf2", Name: "Gi0/1"},
		models.Vlan{ID: 100, Site: "dc1", VID: 10, Name: "users"},
		models.Vlan{ID: 101, Site: "dc1", VID: 20, Name: "voice"},
	))
	return inv
}

func TestInventory_ListFilters(t *testing.T) {
	inv := seeded(t)
	ctx := context.Background()

	t.Run("by device", func(t *testing.T) {
		recs, err := inv.List(ctx, models.KindInterface, ports.DeviceFilter("LEAF1"))
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("by site through the device", func(t *testing.T) {
		recs, err := inv.List(ctx, models.KindInterface, ports.SiteFilter("dc2"))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(20), recs[0].RemoteID())
	})

	t.Run("by tag", func(t *testing.T) {
		recs, err := inv.List(ctx, models.KindDevice, ports.Filter{Tag: "netsync"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "leaf1", recs[0].(models.Device).Name)
	})

	t.Run("vlans by site", func(t *testing.T) {
		recs, err := inv.List(ctx, models.KindVLAN, ports.SiteFilter("DC1"))
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	assert.Equal(t, 4, inv.Calls(models.KindInterface, utils.OpList)+inv.Calls(models.KindDevice, utils.OpList)+inv.Calls(models.KindVLAN, utils.OpList))
}

func TestInventory_CreateResolvesReferences(t *testing.T) {
	inv := seeded(t)
	ctx := context.Background()

	res, err := inv.Create(ctx, models.KindInterface, ports.Payload{
		Key:    "leaf1/Gi0/2",
		Record: models.Interface{Name: "Gi0/2", Mode: models.ModeAccess, MAC: ptr.To("aa:bb:cc:dd:ee:ff")},
		Fields: []string{"enabled", "lag", "untagged_vlan"},
		Refs:   ports.Refs{DeviceID: 1, LAGID: 10, UntaggedVLANID: 101},
	})
	require.NoError(t, err)
	require.NotZero(t, res.ID)

	rec, err := inv.Get(ctx, models.KindInterface, models.InterfaceKey("leaf1", "Gi0/2"))
	require.NoError(t, err)
	ifc := rec.(models.Interface)
	assert.Equal(t, "leaf1", ifc.Device)
	require.NotNil(t, ifc.LAGParent)
	assert.Equal(t, "Po1", *ifc.LAGParent)
	assert.Equal(t, ptr.To(20), ifc.UntaggedVLAN)
	assert.Nil(t, ifc.MAC, "fields not listed are not written")
	assert.Equal(t, models.ModeNone, ifc.Mode)
}

func TestInventory_CreateRejectsMissingReference(t *testing.T) {
	inv := seeded(t)

	_, err := inv.Create(context.Background(), models.KindInterface, ports.Payload{
		Key:    "leaf1/Gi0/3",
		Record: models.Interface{Name: "Gi0/3"},
		Refs:   ports.Refs{DeviceID: 1, LAGID: 999},
	})

	var rejected *ports.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 400, rejected.StatusCode)
	assert.False(t, ports.IsTransient(err))
}

func TestInventory_BulkCreateIsAtomic(t *testing.T) {
	inv := seeded(t)
	inv.RejectKey(models.KindVLAN, "dc1|40", "name is reserved")

	items := []ports.Payload{
		{Key: "dc1|30", Record: models.Vlan{Site: "dc1", VID: 30, Name: "a"}},
		{Key: "dc1|40", Record: models.Vlan{Site: "dc1", VID: 40, Name: "b"}},
		{Key: "dc1|50", Record: models.Vlan{Site: "dc1", VID: 50, Name: "c"}},
	}
	results, err := inv.BulkCreate(context.Background(), models.KindVLAN, items)

	var partial *ports.PartialBatchError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failed, 1)
	assert.Equal(t, "dc1|40", partial.Failed[0].Key)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, inv.DB().Count(models.KindVLAN), "nothing written")
}

func TestInventory_BulkCreateDuplicateInBatch(t *testing.T) {
	inv := seeded(t)
	items := []ports.Payload{
		{Key: "dc1|30", Record: models.Vlan{Site: "dc1", VID: 30}},
		{Key: "dc1|30", Record: models.Vlan{Site: "dc1", VID: 30}},
	}
	_, err := inv.BulkCreate(context.Background(), models.KindVLAN, items)
	var partial *ports.PartialBatchError
	require.ErrorAs(t, err, &partial)
	assert.Len(t, partial.Failed, 1)
}

func TestInventory_FailCalls(t *testing.T) {
	inv := seeded(t)
	transport := &ports.TransportError{Op: "list", StatusCode: 503, Err: errors.New("unavailable")}
	inv.FailCalls(models.KindDevice, utils.OpList, transport, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := inv.List(ctx, models.KindDevice, ports.Filter{})
		assert.True(t, ports.IsTransient(err))
	}
	recs, err := inv.List(ctx, models.KindDevice, ports.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 3, inv.Calls(models.KindDevice, utils.OpList))
}

func TestInventory_PrimaryAddress(t *testing.T) {
	inv := seeded(t)
	ctx := context.Background()

	res, err := inv.Create(ctx, models.KindIPAddress, ports.Payload{
		Key:    "leaf1|10.0.0.1/32",
		Record: models.IPAddress{Address: "10.0.0.1/32", Interface: "Gi0/1"},
		Fields: []string{"interface"},
		Refs:   ports.Refs{DeviceID: 1, InterfaceID: 11},
	})
	require.NoError(t, err)

	recs, err := inv.List(ctx, models.KindIPAddress, ports.DeviceFilter("leaf1"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].(models.IPAddress).Primary)
	assert.Equal(t, "Gi0/1", recs[0].(models.IPAddress).Interface)

	_, err = inv.Update(ctx, models.KindIPAddress, ports.Payload{
		Key:    res.Key,
		ID:     res.ID,
		Record: models.IPAddress{Device: "leaf1", Address: "10.0.0.1/32", Primary: true},
		Fields: []string{"is_primary"},
		Refs:   ports.Refs{DeviceID: 1},
	})
	require.NoError(t, err)

	recs, err = inv.List(ctx, models.KindIPAddress, ports.DeviceFilter("leaf1"))
	require.NoError(t, err)
	addr := recs[0].(models.IPAddress)
	assert.True(t, addr.Primary)
	assert.Equal(t, "Gi0/1", addr.Interface, "a primary-only update keeps the assignment")
}

func TestInventory_NeighborLookups(t *testing.T) {
	inv := seeded(t)
	require.NoError(t, inv.Seed(
		models.Interface{ID: 12, Device: "leaf1", Name: "Management1", MAC: ptr.To("00:1c:73:aa:bb:cc")},
		models.IPAddress{ID: 30, Device: "leaf1", Address: "10.9.9.9/32", Interface: "Management1", Primary: true},
		models.IPAddress{ID: 31, Device: "leaf2", Address: "10.9.9.10/32"},
	))
	ctx := context.Background()

	addrs, err := ports.ListAs[models.IPAddress](ctx, inv, models.KindIPAddress, ports.AddressesFilter("10.9.9.9"))
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "leaf1", addrs[0].Device)

	ifaces, err := ports.ListAs[models.Interface](ctx, inv, models.KindInterface, ports.MACsFilter("001c.73aa.bbcc"))
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	assert.Equal(t, int64(12), ifaces[0].ID)

	devices, err := ports.ListAs[models.Device](ctx, inv, models.KindDevice, ports.DevicesFilter("leaf1", "leaf2"))
	require.NoError(t, err)
	ips := map[string]string{}
	for _, d := range devices {
		ips[d.Name] = d.ManagementIP
	}
	assert.Equal(t, map[string]string{"leaf1": "10.9.9.9", "leaf2": ""}, ips)
}

func TestInventory_CablesAndCascade(t *testing.T) {
	inv := seeded(t)
	ctx := context.Background()

	_, err := inv.Create(ctx, models.KindCable, ports.Payload{
		Key:  "leaf1:Gi0/1|leaf2:Gi0/1",
		Refs: ports.Refs{AInterfaceID: 11, BInterfaceID: 20},
	})
	require.NoError(t, err)

	_, err = inv.Create(ctx, models.KindCable, ports.Payload{
		Key:  "leaf1:Gi0/1|leaf2:Gi0/1",
		Refs: ports.Refs{AInterfaceID: 20, BInterfaceID: 11},
	})
	require.Error(t, err, "an interface takes one cable")

	recs, err := inv.List(ctx, models.KindCable, ports.DeviceFilter("leaf2"))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	_, err = inv.Delete(ctx, models.KindDevice, ports.Payload{Key: "leaf2", ID: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, inv.DB().Count(models.KindCable))
	assert.Equal(t, 2, inv.DB().Count(models.KindInterface))
}

func TestChangeLog_AppendAndFilter(t *testing.T) {
	log := NewChangeLog()
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "run-1", []models.Change{{Kind: models.KindVLAN, Key: "dc1|10", Action: models.ActionCreate}}))
	require.NoError(t, log.Append(ctx, "run-2", []models.Change{{Kind: models.KindVLAN, Key: "dc1|20", Action: models.ActionCreate}}))

	assert.Len(t, log.Entries("run-1"), 1)
	assert.Len(t, log.Entries(""), 2)

	require.NoError(t, log.Close())
	assert.Error(t, log.Append(ctx, "run-3", nil))
}
