package compare

import (
	"strings"

	"netsync/internal/domain/models"
)

// Field names recognized in per-kind field selections
const (
	FieldModel        = "model"
	FieldSerial       = "serial"
	FieldSite         = "site"
	FieldRole         = "role"
	FieldTenant       = "tenant"
	FieldPlatform     = "platform"
	FieldEnabled      = "enabled"
	FieldDescription  = "description"
	FieldType         = "type"
	FieldMode         = "mode"
	FieldSpeed        = "speed"
	FieldDuplex       = "duplex"
	FieldMTU          = "mtu"
	FieldMAC          = "mac_address"
	FieldLAG          = "lag"
	FieldUntaggedVLAN = "untagged_vlan"
	FieldTaggedVLANs  = "tagged_vlans"
	FieldInterface    = "interface"
	FieldPrimary      = "is_primary"
	FieldName         = "name"
	FieldPartID       = "part_id"
	FieldManufacturer = "manufacturer"
)

// DeviceFields returns the comparable attributes of a device
func DeviceFields() []Field[models.Device] {
	return []Field[models.Device]{
		String(FieldModel, func(d models.Device) string { return d.Model }),
		String(FieldSerial, func(d models.Device) string { return d.Serial }),
		String(FieldSite, func(d models.Device) string { return strings.ToLower(d.Site) }),
		String(FieldRole, func(d models.Device) string { return d.Role }),
		OptionalString(FieldTenant, func(d models.Device) *string { return d.Tenant }),
		String(FieldPlatform, func(d models.Device) string { return d.Platform }),
	}
}

// InterfaceFields returns the comparable attributes of an interface. The
// tagged set is not compared for tagged-all ports.
func InterfaceFields() []Field[models.Interface] {
	tagged := Vlans(FieldTaggedVLANs, func(i models.Interface) models.VlanSet { return i.TaggedVLANs })
	tagged.Ignore = func(local, _ models.Interface) bool {
		return local.Mode == models.ModeTaggedAll
	}

	mac := OptionalString(FieldMAC, func(i models.Interface) *string { return i.MAC })
	mac.Equal = func(local, remote models.Interface) bool {
		if local.MAC == nil || remote.MAC == nil {
			return local.MAC == nil && remote.MAC == nil
		}
		return models.NormalizeMAC(*local.MAC) == models.NormalizeMAC(*remote.MAC)
	}

	lag := OptionalString(FieldLAG, func(i models.Interface) *string { return i.LAGParent })
	lag.Equal = func(local, remote models.Interface) bool {
		if local.LAGParent == nil || remote.LAGParent == nil {
			return local.LAGParent == nil && remote.LAGParent == nil
		}
		return models.SameInterface(*local.LAGParent, *remote.LAGParent)
	}

	return []Field[models.Interface]{
		Bool(FieldEnabled, func(i models.Interface) bool { return i.Enabled }),
		OptionalString(FieldDescription, func(i models.Interface) *string { return i.Description }),
		String(FieldType, func(i models.Interface) string { return i.Type }),
		String(FieldMode, func(i models.Interface) string { return string(i.Mode) }),
		OptionalInt(FieldSpeed, func(i models.Interface) *int { return i.Speed }),
		OptionalString(FieldDuplex, func(i models.Interface) *string { return i.Duplex }),
		OptionalInt(FieldMTU, func(i models.Interface) *int { return i.MTU }),
		mac,
		lag,
		OptionalInt(FieldUntaggedVLAN, func(i models.Interface) *int { return i.UntaggedVLAN }),
		tagged,
	}
}

// InterfaceVlanFields is the subset reconciled as VLAN assignment
func InterfaceVlanFields() []Field[models.Interface] {
	return Select(InterfaceFields(), []string{FieldMode, FieldUntaggedVLAN, FieldTaggedVLANs})
}

// IPAddressFields returns the comparable attributes of an IP address
func IPAddressFields() []Field[models.IPAddress] {
	return []Field[models.IPAddress]{
		String(FieldInterface, func(a models.IPAddress) string { return models.CanonicalInterfaceName(a.Interface) }),
		OptionalString(FieldTenant, func(a models.IPAddress) *string { return a.Tenant }),
		OptionalString(FieldDescription, func(a models.IPAddress) *string { return a.Description }),
		Bool(FieldPrimary, func(a models.IPAddress) bool { return a.Primary }),
	}
}

// VlanFields returns the comparable attributes of a VLAN
func VlanFields() []Field[models.Vlan] {
	return []Field[models.Vlan]{
		String(FieldName, func(v models.Vlan) string { return v.Name }),
	}
}

// InventoryItemFields returns the comparable attributes of a hardware module
func InventoryItemFields() []Field[models.InventoryItem] {
	return []Field[models.InventoryItem]{
		String(FieldPartID, func(it models.InventoryItem) string { return it.PartID }),
		String(FieldSerial, func(it models.InventoryItem) string { return it.Serial }),
		OptionalString(FieldDescription, func(it models.InventoryItem) *string { return it.Description }),
		String(FieldManufacturer, func(it models.InventoryItem) string { return it.Manufacturer }),
	}
}

// FieldNames returns the selectable attribute names of kind. Cables have none.
func FieldNames(kind models.EntityKind) []string {
	switch kind {
	case models.KindDevice:
		return Names(DeviceFields())
	case models.KindInterface:
		return Names(InterfaceFields())
	case models.KindIPAddress:
		return Names(IPAddressFields())
	case models.KindVLAN:
		return Names(VlanFields())
	case models.KindInventoryItem:
		return Names(InventoryItemFields())
	default:
		return nil
	}
}
