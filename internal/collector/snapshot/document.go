package snapshot

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the collector output for one device. YAML and JSON encodings
// share the same field names.
type Document struct {
	Device     DeviceDoc      `yaml:"device"`
	Interfaces []InterfaceDoc `yaml:"interfaces"`
	Addresses  []AddressDoc   `yaml:"addresses"`
	VLANs      []VlanDoc      `yaml:"vlans"`
	Neighbors  []NeighborDoc  `yaml:"neighbors"`
	Inventory  []InventoryDoc `yaml:"inventory"`
}

func (d Document) empty() bool {
	return d.Device == (DeviceDoc{}) && len(d.Interfaces) == 0 && len(d.Addresses) == 0 &&
		len(d.VLANs) == 0 && len(d.Neighbors) == 0 && len(d.Inventory) == 0
}

// DeviceDoc describes the polled device
type DeviceDoc struct {
	Hostname     string  `yaml:"hostname"`
	Model        string  `yaml:"model"`
	Serial       string  `yaml:"serial"`
	Site         string  `yaml:"site"`
	Role         string  `yaml:"role"`
	Tenant       *string `yaml:"tenant"`
	Platform     string  `yaml:"platform"`
	ManagementIP string  `yaml:"management_ip"`
	ChassisMAC   string  `yaml:"chassis_mac"`
}

// InterfaceDoc is one port as reported by the device. Absent keys decode to
// nil, explicit empty strings stay empty.
type InterfaceDoc struct {
	Name         string   `yaml:"name"`
	Enabled      *bool    `yaml:"enabled"`
	Description  *string  `yaml:"description"`
	Type         string   `yaml:"type"`
	Mode         string   `yaml:"mode"`
	Speed        *int     `yaml:"speed"`
	Duplex       *string  `yaml:"duplex"`
	MTU          *int     `yaml:"mtu"`
	MAC          *string  `yaml:"mac_address"`
	LAG          *string  `yaml:"lag"`
	UntaggedVLAN *int     `yaml:"untagged_vlan"`
	TaggedVLANs  VlanList `yaml:"tagged_vlans"`
}

// AddressDoc is one configured address
type AddressDoc struct {
	Address     string  `yaml:"address"`
	Interface   string  `yaml:"interface"`
	Tenant      *string `yaml:"tenant"`
	Description *string `yaml:"description"`
	Primary     bool    `yaml:"primary"`
}

// VlanDoc is one VLAN defined on the device
type VlanDoc struct {
	VID  int    `yaml:"vid"`
	Name string `yaml:"name"`
}

// NeighborDoc is one LLDP/CDP report
type NeighborDoc struct {
	LocalInterface string `yaml:"local_interface"`
	Hostname       string `yaml:"hostname"`
	ManagementIP   string `yaml:"management_ip"`
	ChassisMAC     string `yaml:"chassis_mac"`
	Port           string `yaml:"port"`
}

// InventoryDoc is one installed hardware module
type InventoryDoc struct {
	Name         string  `yaml:"name"`
	PartID       string  `yaml:"part_id"`
	Serial       string  `yaml:"serial"`
	Description  *string `yaml:"description"`
	Manufacturer string  `yaml:"manufacturer"`
}

// VlanList holds the raw tagged VLAN notation. Collectors emit either a range
// string ("10,20-30", "ALL") or a list of ids.
type VlanList string

// UnmarshalYAML implements yaml.Unmarshaler
func (l *VlanList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = VlanList(node.Value)
		return nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return &yaml.TypeError{Errors: []string{"line " + strconv.Itoa(item.Line) + ": tagged_vlans entries must be scalars"}}
			}
			parts = append(parts, item.Value)
		}
		*l = VlanList(strings.Join(parts, ","))
		return nil
	default:
		return &yaml.TypeError{Errors: []string{"line " + strconv.Itoa(node.Line) + ": tagged_vlans must be a string or a list"}}
	}
}
