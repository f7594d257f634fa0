package models

import (
	"fmt"
	"strings"
)

// EntityKind identifies one class of inventory record
type EntityKind string

const (
	KindDevice        EntityKind = "devices"
	KindInterface     EntityKind = "interfaces"
	KindIPAddress     EntityKind = "ip-addresses"
	KindVLAN          EntityKind = "vlans"
	KindCable         EntityKind = "cables"
	KindInventoryItem EntityKind = "inventory-items"
)

// KindOrder is the dependency order in which kinds are reconciled
var KindOrder = []EntityKind{
	KindDevice,
	KindInterface,
	KindIPAddress,
	KindVLAN,
	KindCable,
	KindInventoryItem,
}

// DependsOn returns the kind that must be reconciled for a device before k
func (k EntityKind) DependsOn() (EntityKind, bool) {
	switch k {
	case KindInterface, KindInventoryItem:
		return KindDevice, true
	case KindIPAddress, KindVLAN, KindCable:
		return KindInterface, true
	default:
		return "", false
	}
}

// IsValid reports whether k is one of the known kinds
func (k EntityKind) IsValid() bool {
	for _, known := range KindOrder {
		if k == known {
			return true
		}
	}
	return false
}

// String returns the kind name
func (k EntityKind) String() string {
	return string(k)
}

// ParseEntityKind parses a kind name. Short aliases are accepted.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "devices", "device":
		return KindDevice, nil
	case "interfaces", "interface":
		return KindInterface, nil
	case "ip-addresses", "ipaddresses", "ips", "ip":
		return KindIPAddress, nil
	case "vlans", "vlan":
		return KindVLAN, nil
	case "cables", "cable":
		return KindCable, nil
	case "inventory-items", "inventory", "modules":
		return KindInventoryItem, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// ParseEntityKinds parses a list of kind names and returns them in dependency order
func ParseEntityKinds(names []string) ([]EntityKind, error) {
	selected := make(map[EntityKind]bool, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		kind, err := ParseEntityKind(name)
		if err != nil {
			return nil, err
		}
		selected[kind] = true
	}
	kinds := make([]EntityKind, 0, len(selected))
	for _, kind := range KindOrder {
		if selected[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}
