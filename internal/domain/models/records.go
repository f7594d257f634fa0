package models

import (
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// Record is a normalized inventory record identified by a natural key
type Record interface {
	Key() string
	// RemoteID is the inventory-assigned id, zero for local records
	RemoteID() int64
}

// InterfaceMode is the 802.1Q mode of an interface
type InterfaceMode string

const (
	ModeNone      InterfaceMode = ""
	ModeAccess    InterfaceMode = "access"
	ModeTagged    InterfaceMode = "tagged"
	ModeTaggedAll InterfaceMode = "tagged-all"
)

// Interface types with special handling
const (
	InterfaceTypeLAG     = "lag"
	InterfaceTypeVirtual = "virtual"
)

// Device is a network device. ID is the remote identifier and is zero for
// locally observed records.
type Device struct {
	ID       int64
	Name     string
	Model    string
	Serial   string
	Site     string
	Role     string
	Tenant   *string
	Platform string
	Tags     []string

	// Identity used to resolve neighbor reports, not reconciled
	ManagementIP string
	ChassisMAC   string
}

// Key returns the lower-cased hostname
func (d Device) Key() string {
	return DeviceKey(d.Name)
}

// RemoteID returns the inventory id
func (d Device) RemoteID() int64 {
	return d.ID
}

// HasTag reports whether the device carries tag
func (d Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DeviceKey normalizes a hostname
func DeviceKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Interface is a device port. Pointer fields are nullable: nil means the
// value is absent, a pointer to the zero value is an explicit empty value.
type Interface struct {
	ID           int64
	Device       string
	Name         string
	Enabled      bool
	Description  *string
	Type         string
	Mode         InterfaceMode
	Speed        *int
	Duplex       *string
	MTU          *int
	MAC          *string
	LAGParent    *string
	UntaggedVLAN *int
	TaggedVLANs  VlanSet
}

// Key returns device/canonical-name
func (i Interface) Key() string {
	return InterfaceKey(i.Device, i.Name)
}

// RemoteID returns the inventory id
func (i Interface) RemoteID() int64 {
	return i.ID
}

// IsLAG reports whether the interface is a link aggregate
func (i Interface) IsLAG() bool {
	return i.Type == InterfaceTypeLAG || IsLAGName(CanonicalInterfaceName(i.Name))
}

// InterfaceKey builds the natural key of an interface
func InterfaceKey(device, name string) string {
	return DeviceKey(device) + "/" + CanonicalInterfaceName(name)
}

// IPAddress is an address assigned to a device interface
type IPAddress struct {
	ID          int64
	Device      string
	Address     string
	Interface   string
	Tenant      *string
	Description *string
	Primary     bool
}

// Key returns device|address
func (a IPAddress) Key() string {
	return DeviceKey(a.Device) + "|" + NormalizePrefix(a.Address)
}

// RemoteID returns the inventory id
func (a IPAddress) RemoteID() int64 {
	return a.ID
}

// NormalizePrefix returns the canonical address/prefix form. Bare addresses
// get a host prefix. Unparseable input is returned trimmed.
func NormalizePrefix(s string) string {
	s = strings.TrimSpace(s)
	if p, err := netip.ParsePrefix(s); err == nil {
		return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()).String()
	}
	if a, err := netip.ParseAddr(s); err == nil {
		a = a.Unmap()
		return netip.PrefixFrom(a, a.BitLen()).String()
	}
	return s
}

// Vlan is a site-scoped VLAN definition
type Vlan struct {
	ID   int64
	Site string
	VID  int
	Name string
}

// Key returns site|vid
func (v Vlan) Key() string {
	return VlanKey(v.Site, v.VID)
}

// RemoteID returns the inventory id
func (v Vlan) RemoteID() int64 {
	return v.ID
}

// VlanKey builds the natural key of a VLAN
func VlanKey(site string, vid int) string {
	return strings.ToLower(site) + "|" + strconv.Itoa(vid)
}

// CableEndpoint is one termination of a cable
type CableEndpoint struct {
	Device    string
	Interface string
}

// String returns device:interface in canonical form
func (e CableEndpoint) String() string {
	return DeviceKey(e.Device) + ":" + CanonicalInterfaceName(e.Interface)
}

// Cable is an undirected physical link. A and B are kept sorted so both
// directions of a link share one key.
type Cable struct {
	ID int64
	A  CableEndpoint
	B  CableEndpoint
}

// NewCable builds a cable with canonically ordered endpoints
func NewCable(a, b CableEndpoint) Cable {
	a = CableEndpoint{Device: DeviceKey(a.Device), Interface: CanonicalInterfaceName(a.Interface)}
	b = CableEndpoint{Device: DeviceKey(b.Device), Interface: CanonicalInterfaceName(b.Interface)}
	if b.String() < a.String() {
		a, b = b, a
	}
	return Cable{A: a, B: b}
}

// Key returns the sorted endpoint pair
func (c Cable) Key() string {
	ends := []string{c.A.String(), c.B.String()}
	sort.Strings(ends)
	return ends[0] + "|" + ends[1]
}

// RemoteID returns the inventory id
func (c Cable) RemoteID() int64 {
	return c.ID
}

// Devices returns the two endpoint device keys
func (c Cable) Devices() (string, string) {
	return DeviceKey(c.A.Device), DeviceKey(c.B.Device)
}

// InventoryItem is a hardware module installed in a device
type InventoryItem struct {
	ID           int64
	Device       string
	Name         string
	PartID       string
	Serial       string
	Description  *string
	Manufacturer string
}

// Key returns device|component
func (it InventoryItem) Key() string {
	return DeviceKey(it.Device) + "|" + strings.TrimSpace(it.Name)
}

// RemoteID returns the inventory id
func (it InventoryItem) RemoteID() int64 {
	return it.ID
}

// NeighborObservation is one neighbor-discovery report from a local port
type NeighborObservation struct {
	LocalInterface     string
	RemoteHostname     string
	RemoteManagementIP string
	RemoteChassisMAC   string
	RemotePort         string
}

// NormalizeMAC returns a lower-case colon separated MAC or "" when invalid
func NormalizeMAC(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// ParseMAC also accepts the dotted aabb.ccdd.eeff form
	hw, err := net.ParseMAC(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(hw.String())
}

// RejectedRecord is a record the normalization layer could not accept
type RejectedRecord struct {
	Kind EntityKind
	Key  string
	Err  error
}

// Snapshot is the normalized observation of one device
type Snapshot struct {
	Device         Device
	Interfaces     []Interface
	IPAddresses    []IPAddress
	VLANs          []Vlan
	Neighbors      []NeighborObservation
	InventoryItems []InventoryItem
	Rejected       []RejectedRecord
}

// DeviceKey returns the key of the observed device
func (s *Snapshot) DeviceKey() string {
	return s.Device.Key()
}

// HasInterface reports whether the snapshot holds a port with the given name
func (s *Snapshot) HasInterface(name string) bool {
	canonical := CanonicalInterfaceName(name)
	for _, ifc := range s.Interfaces {
		if CanonicalInterfaceName(ifc.Name) == canonical {
			return true
		}
	}
	return false
}
