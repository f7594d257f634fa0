package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"netsync/internal/domain/models"
)

const leafYAML = `
device:
  hostname: LEAF1
  model: DCS-7050SX3
  serial: SSJ123
  site: DC1
  role: leaf
  platform: eos
  management_ip: 10.255.0.1/24
  chassis_mac: 00-1C-73-AA-BB-CC
interfaces:
  - name: Ethernet1
    mode: access
    untagged_vlan: 10
    description: ""
    mac_address: 001c.73aa.bb01
  - name: Ethernet2
    mode: trunk
    tagged_vlans: [10, 20]
    enabled: false
  - name: Ethernet3
    tagged_vlans: ALL
  - name: Ethernet4
    mode: trunk
    tagged_vlans: "10,30-20"
  - name: Port-Channel1
    type: LAG
    lag: Port-Channel9
addresses:
  - address: 10.0.0.1
    interface: Ethernet1
    primary: true
  - address: 10.0.0.300/24
    interface: Ethernet1
vlans:
  - vid: 10
    name: users
  - vid: 5000
    name: bogus
neighbors:
  - local_interface: Ethernet3
    hostname: spine1.example.net
    port: Ethernet1
inventory:
  - name: Ethernet1 transceiver
    part_id: FTLX8571D3BCL
  - name: PSU1
    part_id: XYZ-123
`

func newTestLoader() *Loader {
	return NewLoader(Options{DefaultManufacturer: "Generic"}, logr.Discard())
}

func decodeOne(t *testing.T, doc string) *models.Snapshot {
	t.Helper()
	snaps, err := newTestLoader().Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	return snaps[0]
}

func TestDecode_Device(t *testing.T) {
	snap := decodeOne(t, leafYAML)

	assert.Equal(t, "leaf1", snap.Device.Name)
	assert.Equal(t, "dc1", snap.Device.Site)
	assert.Nil(t, snap.Device.Tenant)
	assert.Equal(t, "10.255.0.1", snap.Device.ManagementIP)
	assert.Equal(t, "00:1c:73:aa:bb:cc", snap.Device.ChassisMAC)
}

func TestDecode_Interfaces(t *testing.T) {
	snap := decodeOne(t, leafYAML)
	require.Len(t, snap.Interfaces, 4)

	eth1 := snap.Interfaces[0]
	assert.Equal(t, "leaf1", eth1.Device)
	assert.True(t, eth1.Enabled)
	assert.Equal(t, models.ModeAccess, eth1.Mode)
	assert.Equal(t, ptr.To(10), eth1.UntaggedVLAN)
	// explicit empty description is kept as a value
	require.NotNil(t, eth1.Description)
	assert.Equal(t, "", *eth1.Description)
	assert.Equal(t, ptr.To("00:1c:73:aa:bb:01"), eth1.MAC)
	assert.True(t, eth1.TaggedVLANs.IsEmpty())

	eth2 := snap.Interfaces[1]
	assert.False(t, eth2.Enabled)
	assert.Equal(t, models.ModeTagged, eth2.Mode)
	assert.True(t, eth2.TaggedVLANs.Equal(models.NewVlanSet(10, 20)))
	assert.Nil(t, eth2.Description)

	eth3 := snap.Interfaces[2]
	assert.Equal(t, models.ModeTaggedAll, eth3.Mode)
	assert.True(t, eth3.TaggedVLANs.IsAll())

	po := snap.Interfaces[3]
	assert.Equal(t, "lag", po.Type)
	assert.Equal(t, ptr.To("Port-Channel9"), po.LAGParent)
}

func TestDecode_RejectsMalformedRecords(t *testing.T) {
	snap := decodeOne(t, leafYAML)

	byKind := map[models.EntityKind][]models.RejectedRecord{}
	for _, r := range snap.Rejected {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}

	require.Len(t, byKind[models.KindInterface], 1)
	assert.Equal(t, models.InterfaceKey("leaf1", "Ethernet4"), byKind[models.KindInterface][0].Key)
	var fe *models.FormatError
	require.ErrorAs(t, byKind[models.KindInterface][0].Err, &fe)
	assert.Equal(t, "vlan range", fe.Field)

	require.Len(t, byKind[models.KindIPAddress], 1)
	require.ErrorAs(t, byKind[models.KindIPAddress][0].Err, &fe)
	assert.Equal(t, "address", fe.Field)

	require.Len(t, byKind[models.KindVLAN], 1)
	assert.Equal(t, "dc1|5000", byKind[models.KindVLAN][0].Key)

	assert.Len(t, snap.VLANs, 1)
	assert.Len(t, snap.IPAddresses, 1)
}

func TestDecode_Addresses(t *testing.T) {
	snap := decodeOne(t, leafYAML)
	require.Len(t, snap.IPAddresses, 1)

	addr := snap.IPAddresses[0]
	assert.Equal(t, "10.0.0.1/32", addr.Address)
	assert.Equal(t, models.CanonicalInterfaceName("Ethernet1"), addr.Interface)
	assert.True(t, addr.Primary)
	assert.Equal(t, "leaf1|10.0.0.1/32", addr.Key())
}

func TestDecode_NeighborsAndInventory(t *testing.T) {
	snap := decodeOne(t, leafYAML)

	require.Len(t, snap.Neighbors, 1)
	assert.Equal(t, models.NeighborObservation{
		LocalInterface: "Ethernet3",
		RemoteHostname: "spine1.example.net",
		RemotePort:     "Ethernet1",
	}, snap.Neighbors[0])

	require.Len(t, snap.InventoryItems, 2)
	assert.Equal(t, "Finisar", snap.InventoryItems[0].Manufacturer)
	// unknown part ids fall back to the configured default
	assert.Equal(t, "Generic", snap.InventoryItems[1].Manufacturer)
}

func TestDecode_ExplicitManufacturerWins(t *testing.T) {
	snap := decodeOne(t, `
device: {hostname: leaf1}
inventory:
  - {name: Fan1, part_id: FTLX1, manufacturer: Acme}
`)
	assert.Equal(t, "Acme", snap.InventoryItems[0].Manufacturer)
}

func TestDecode_JSON(t *testing.T) {
	snap := decodeOne(t, `{
  "device": {"hostname": "Spine1", "site": "dc1", "tenant": "ops"},
  "interfaces": [{"name": "Ethernet1", "mode": "tagged", "tagged_vlans": "10-12", "mtu": 9214}]
}`)
	assert.Equal(t, "spine1", snap.Device.Name)
	assert.Equal(t, ptr.To("ops"), snap.Device.Tenant)
	require.Len(t, snap.Interfaces, 1)
	assert.Equal(t, ptr.To(9214), snap.Interfaces[0].MTU)
	assert.True(t, snap.Interfaces[0].TaggedVLANs.Equal(models.NewVlanSet(10, 11, 12)))
}

func TestDecode_MultipleDocuments(t *testing.T) {
	snaps, err := newTestLoader().Decode([]byte(`
device: {hostname: leaf1}
---
device: {hostname: leaf2}
---
`))
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "leaf2", snaps[1].DeviceKey())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "missing hostname", doc: "device: {site: dc1}\ninterfaces: [{name: Ethernet1}]"},
		{name: "unknown key", doc: "device: {hostname: leaf1, colour: red}"},
		{name: "nested tagged list", doc: "device: {hostname: leaf1}\ninterfaces: [{name: Eth1, tagged_vlans: [[1]]}]"},
		{name: "not yaml", doc: "device: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader().Decode([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDecode_UnknownModeIsRejected(t *testing.T) {
	snap := decodeOne(t, "device: {hostname: leaf1}\ninterfaces: [{name: Ethernet1, mode: hybrid}]")
	assert.Empty(t, snap.Interfaces)
	require.Len(t, snap.Rejected, 1)
	assert.Contains(t, snap.Rejected[0].Err.Error(), "unknown 802.1Q mode")
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-leaf2.yaml"), []byte("device: {hostname: leaf2}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-leaf1.json"), []byte(`{"device": {"hostname": "leaf1"}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# not a snapshot"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))

	snaps, err := newTestLoader().Load(dir)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "leaf1", snaps[0].DeviceKey())
	assert.Equal(t, "leaf2", snaps[1].DeviceKey())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := newTestLoader().Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("device: {}\ninterfaces: [{name: Ethernet1}]"), 0o600))
	_, err = newTestLoader().Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}
