package mem

import (
	"net/http"

	"github.com/pkg/errors"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

// Attribute names accepted in payload field lists
const (
	fieldModel        = "model"
	fieldSerial       = "serial"
	fieldSite         = "site"
	fieldRole         = "role"
	fieldTenant       = "tenant"
	fieldPlatform     = "platform"
	fieldEnabled      = "enabled"
	fieldDescription  = "description"
	fieldType         = "type"
	fieldMode         = "mode"
	fieldSpeed        = "speed"
	fieldDuplex       = "duplex"
	fieldMTU          = "mtu"
	fieldMAC          = "mac_address"
	fieldLAG          = "lag"
	fieldUntaggedVLAN = "untagged_vlan"
	fieldTaggedVLANs  = "tagged_vlans"
	fieldInterface    = "interface"
	fieldPrimary      = "is_primary"
	fieldName         = "name"
	fieldPartID       = "part_id"
	fieldManufacturer = "manufacturer"
)

// hasField reports whether name is written. An empty list writes everything.
func hasField(fields []string, name string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func invalid(format string, args ...interface{}) error {
	return &ports.RejectedError{StatusCode: http.StatusBadRequest, Message: errors.Errorf(format, args...).Error()}
}

// build computes the record a write produces. existing is nil for creates.
// References are taken from the payload ids, never from the names in the
// payload record. Callers hold the write lock.
func (inv *Inventory) build(kind models.EntityKind, existing models.Record, item ports.Payload) (models.Record, error) {
	switch kind {
	case models.KindDevice:
		return inv.buildDevice(existing, item)
	case models.KindInterface:
		return inv.buildInterface(existing, item)
	case models.KindIPAddress:
		return inv.buildIPAddress(existing, item)
	case models.KindVLAN:
		return buildVlan(existing, item)
	case models.KindCable:
		return inv.buildCable(existing, item)
	case models.KindInventoryItem:
		return inv.buildInventoryItem(existing, item)
	}
	return nil, errors.Errorf("unknown kind %q", kind)
}

func (inv *Inventory) buildDevice(existing models.Record, item ports.Payload) (models.Record, error) {
	src, ok := item.Record.(models.Device)
	if !ok {
		return nil, invalid("device payload carries %T", item.Record)
	}
	if existing == nil {
		if src.Name == "" {
			return nil, invalid("device name is required")
		}
		return src, nil
	}

	dst := existing.(models.Device)
	if hasField(item.Fields, fieldModel) {
		dst.Model = src.Model
	}
	if hasField(item.Fields, fieldSerial) {
		dst.Serial = src.Serial
	}
	if hasField(item.Fields, fieldSite) {
		dst.Site = src.Site
	}
	if hasField(item.Fields, fieldRole) {
		dst.Role = src.Role
	}
	if hasField(item.Fields, fieldTenant) {
		dst.Tenant = src.Tenant
	}
	if hasField(item.Fields, fieldPlatform) {
		dst.Platform = src.Platform
	}
	return dst, nil
}

// device resolves a device id
func (inv *Inventory) device(id int64) (models.Device, error) {
	rec, ok := inv.db.table(models.KindDevice).byID[id]
	if !ok {
		return models.Device{}, invalid("device %d does not exist", id)
	}
	return rec.(models.Device), nil
}

func (inv *Inventory) buildInterface(existing models.Record, item ports.Payload) (models.Record, error) {
	src, ok := item.Record.(models.Interface)
	if !ok {
		return nil, invalid("interface payload carries %T", item.Record)
	}

	var dst models.Interface
	if existing == nil {
		dev, err := inv.device(item.Refs.DeviceID)
		if err != nil {
			return nil, err
		}
		dst = models.Interface{Device: dev.Name, Name: src.Name, TaggedVLANs: models.NewVlanSet()}
	} else {
		dst = existing.(models.Interface)
	}

	if hasField(item.Fields, fieldEnabled) {
		dst.Enabled = src.Enabled
	}
	if hasField(item.Fields, fieldDescription) {
		dst.Description = src.Description
	}
	if hasField(item.Fields, fieldType) {
		dst.Type = src.Type
	}
	if hasField(item.Fields, fieldSpeed) {
		dst.Speed = src.Speed
	}
	if hasField(item.Fields, fieldDuplex) {
		dst.Duplex = src.Duplex
	}
	if hasField(item.Fields, fieldMTU) {
		dst.MTU = src.MTU
	}
	if hasField(item.Fields, fieldMAC) {
		dst.MAC = src.MAC
	}
	if hasField(item.Fields, fieldMode) {
		dst.Mode = src.Mode
	}

	if hasField(item.Fields, fieldLAG) {
		dst.LAGParent = nil
		if id := item.Refs.LAGID; id != 0 {
			rec, ok := inv.db.table(models.KindInterface).byID[id]
			if !ok {
				return nil, invalid("lag %d does not exist", id)
			}
			parent := rec.(models.Interface)
			if models.DeviceKey(parent.Device) != models.DeviceKey(dst.Device) {
				return nil, invalid("lag %s is on another device", parent.Key())
			}
			name := parent.Name
			dst.LAGParent = &name
		}
	}

	if hasField(item.Fields, fieldUntaggedVLAN) {
		dst.UntaggedVLAN = nil
		if id := item.Refs.UntaggedVLANID; id != 0 {
			vid, err := inv.vlanVID(id)
			if err != nil {
				return nil, err
			}
			dst.UntaggedVLAN = &vid
		}
	}

	if hasField(item.Fields, fieldTaggedVLANs) {
		vids := make([]int, 0, len(item.Refs.TaggedVLANIDs))
		for _, id := range item.Refs.TaggedVLANIDs {
			vid, err := inv.vlanVID(id)
			if err != nil {
				return nil, err
			}
			vids = append(vids, vid)
		}
		dst.TaggedVLANs = models.NewVlanSet(vids...)
	}
	if dst.Mode == models.ModeTaggedAll {
		dst.TaggedVLANs = models.AllVlans()
	}
	return dst, nil
}

func (inv *Inventory) vlanVID(id int64) (int, error) {
	rec, ok := inv.db.table(models.KindVLAN).byID[id]
	if !ok {
		return 0, invalid("vlan %d does not exist", id)
	}
	return rec.(models.Vlan).VID, nil
}

func (inv *Inventory) buildIPAddress(existing models.Record, item ports.Payload) (models.Record, error) {
	src, ok := item.Record.(models.IPAddress)
	if !ok {
		return nil, invalid("ip address payload carries %T", item.Record)
	}

	var dst models.IPAddress
	if existing == nil {
		dev, err := inv.device(item.Refs.DeviceID)
		if err != nil {
			return nil, err
		}
		dst = models.IPAddress{Device: dev.Name, Address: models.NormalizePrefix(src.Address)}
	} else {
		dst = existing.(models.IPAddress)
	}

	if hasField(item.Fields, fieldInterface) {
		dst.Interface = ""
		if id := item.Refs.InterfaceID; id != 0 {
			rec, ok := inv.db.table(models.KindInterface).byID[id]
			if !ok {
				return nil, invalid("interface %d does not exist", id)
			}
			ifc := rec.(models.Interface)
			if models.DeviceKey(ifc.Device) != models.DeviceKey(dst.Device) {
				return nil, invalid("interface %s is on another device", ifc.Key())
			}
			dst.Interface = ifc.Name
		}
	}
	if hasField(item.Fields, fieldTenant) {
		dst.Tenant = src.Tenant
	}
	if hasField(item.Fields, fieldDescription) {
		dst.Description = src.Description
	}
	// The primary flag is kept on the device, see commit
	dst.Primary = src.Primary
	return dst, nil
}

func buildVlan(existing models.Record, item ports.Payload) (models.Record, error) {
	src, ok := item.Record.(models.Vlan)
	if !ok {
		return nil, invalid("vlan payload carries %T", item.Record)
	}
	if existing == nil {
		if src.VID < models.MinVlanID || src.VID > models.MaxVlanID {
			return nil, invalid("vlan id %d out of range", src.VID)
		}
		return src, nil
	}
	dst := existing.(models.Vlan)
	if hasField(item.Fields, fieldName) {
		dst.Name = src.Name
	}
	return dst, nil
}

func (inv *Inventory) buildCable(existing models.Record, item ports.Payload) (models.Record, error) {
	if existing != nil {
		return existing, nil
	}

	ifaces := inv.db.table(models.KindInterface)
	ends := make([]models.CableEndpoint, 0, 2)
	for _, id := range []int64{item.Refs.AInterfaceID, item.Refs.BInterfaceID} {
		rec, ok := ifaces.byID[id]
		if !ok {
			return nil, invalid("cable termination %d does not exist", id)
		}
		ifc := rec.(models.Interface)
		ends = append(ends, models.CableEndpoint{Device: ifc.Device, Interface: ifc.Name})
	}

	cable := models.NewCable(ends[0], ends[1])
	for _, rec := range inv.db.table(models.KindCable).byID {
		c := rec.(models.Cable)
		for _, end := range []models.CableEndpoint{cable.A, cable.B} {
			if c.A.String() == end.String() || c.B.String() == end.String() {
				return nil, invalid("interface %s is already cabled", end)
			}
		}
	}
	return cable, nil
}

func (inv *Inventory) buildInventoryItem(existing models.Record, item ports.Payload) (models.Record, error) {
	src, ok := item.Record.(models.InventoryItem)
	if !ok {
		return nil, invalid("inventory item payload carries %T", item.Record)
	}

	var dst models.InventoryItem
	if existing == nil {
		dev, err := inv.device(item.Refs.DeviceID)
		if err != nil {
			return nil, err
		}
		dst = models.InventoryItem{Device: dev.Name, Name: src.Name}
	} else {
		dst = existing.(models.InventoryItem)
	}

	if hasField(item.Fields, fieldPartID) {
		dst.PartID = src.PartID
	}
	if hasField(item.Fields, fieldSerial) {
		dst.Serial = src.Serial
	}
	if hasField(item.Fields, fieldDescription) {
		dst.Description = src.Description
	}
	if hasField(item.Fields, fieldManufacturer) {
		dst.Manufacturer = src.Manufacturer
	}
	return dst, nil
}
