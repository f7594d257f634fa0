package clients

import (
	"fmt"
	"net/http"
	"net/netip"

	"github.com/tidwall/gjson"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

// Attribute names of payload field lists
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

const interfaceObjectType = "dcim.interface"

// hasField reports whether name is written. An empty list writes everything.
func hasField(fields []string, name string) bool {
	return len(fields) == 0 || listed(fields, name)
}

// listed reports whether name is named explicitly
func listed(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func rejected(format string, args ...any) error {
	return &ports.RejectedError{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// decode converts one API object. A nil record is skipped by the caller.
func decode(kind models.EntityKind, item gjson.Result) (models.Record, error) {
	switch kind {
	case models.KindDevice:
		return decodeDevice(item), nil
	case models.KindInterface:
		return decodeInterface(item), nil
	case models.KindIPAddress:
		return decodeIPAddress(item), nil
	case models.KindVLAN:
		return models.Vlan{
			ID:   item.Get("id").Int(),
			Site: item.Get("site.slug").String(),
			VID:  int(item.Get("vid").Int()),
			Name: item.Get("name").String(),
		}, nil
	case models.KindCable:
		return decodeCable(item), nil
	case models.KindInventoryItem:
		return models.InventoryItem{
			ID:           item.Get("id").Int(),
			Device:       item.Get("device.name").String(),
			Name:         item.Get("name").String(),
			PartID:       item.Get("part_id").String(),
			Serial:       item.Get("serial").String(),
			Description:  optString(item.Get("description")),
			Manufacturer: item.Get("manufacturer.name").String(),
		}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func decodeDevice(item gjson.Result) models.Record {
	role := item.Get("role.slug")
	if !role.Exists() {
		role = item.Get("device_role.slug")
	}
	var tags []string
	for _, t := range item.Get("tags.#.slug").Array() {
		tags = append(tags, t.String())
	}
	return models.Device{
		ID:       item.Get("id").Int(),
		Name:     item.Get("name").String(),
		Model:    item.Get("device_type.model").String(),
		Serial:   item.Get("serial").String(),
		Site:     item.Get("site.slug").String(),
		Role:     role.String(),
		Tenant:   optString(item.Get("tenant.slug")),
		Platform: item.Get("platform.slug").String(),
		Tags:     tags,
		// read only: the primary address is written through ip addresses
		ManagementIP: primaryHost(item.Get("primary_ip.address").String()),
	}
}

func primaryHost(address string) string {
	if p, err := netip.ParsePrefix(address); err == nil {
		return p.Addr().String()
	}
	return ""
}

func decodeInterface(item gjson.Result) models.Record {
	ifc := models.Interface{
		ID:           item.Get("id").Int(),
		Device:       item.Get("device.name").String(),
		Name:         item.Get("name").String(),
		Enabled:      item.Get("enabled").Bool(),
		Description:  optString(item.Get("description")),
		Type:         item.Get("type.value").String(),
		Mode:         models.InterfaceMode(item.Get("mode.value").String()),
		Speed:        optInt(item.Get("speed")),
		Duplex:       optString(item.Get("duplex.value")),
		MTU:          optInt(item.Get("mtu")),
		MAC:          optString(item.Get("mac_address")),
		LAGParent:    optString(item.Get("lag.name")),
		UntaggedVLAN: optInt(item.Get("untagged_vlan.vid")),
	}
	var vids []int
	for _, vid := range item.Get("tagged_vlans.#.vid").Array() {
		vids = append(vids, int(vid.Int()))
	}
	ifc.TaggedVLANs = models.NewVlanSet(vids...)
	if ifc.Mode == models.ModeTaggedAll {
		ifc.TaggedVLANs = models.AllVlans()
	}
	return ifc
}

// decodeIPAddress returns nil for addresses not assigned to an interface
func decodeIPAddress(item gjson.Result) models.Record {
	if item.Get("assigned_object_type").String() != interfaceObjectType {
		return nil
	}
	return models.IPAddress{
		ID:          item.Get("id").Int(),
		Device:      item.Get("assigned_object.device.name").String(),
		Address:     models.NormalizePrefix(item.Get("address").String()),
		Interface:   item.Get("assigned_object.name").String(),
		Tenant:      optString(item.Get("tenant.slug")),
		Description: optString(item.Get("description")),
	}
}

// decodeCable returns nil for cables not joining two interfaces
func decodeCable(item gjson.Result) models.Record {
	a, b := item.Get("a_terminations.0"), item.Get("b_terminations.0")
	if a.Get("object_type").String() != interfaceObjectType || b.Get("object_type").String() != interfaceObjectType {
		return nil
	}
	cable := models.NewCable(
		models.CableEndpoint{Device: a.Get("object.device.name").String(), Interface: a.Get("object.name").String()},
		models.CableEndpoint{Device: b.Get("object.device.name").String(), Interface: b.Get("object.name").String()},
	)
	cable.ID = item.Get("id").Int()
	return cable
}

func optString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := r.String()
	return &s
}

func optInt(r gjson.Result) *int {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	n := int(r.Int())
	return &n
}

func encodeAll(kind models.EntityKind, items []ports.Payload, create bool) ([]map[string]any, error) {
	bodies := make([]map[string]any, 0, len(items))
	var failed []ports.Result
	for _, item := range items {
		body, err := encode(kind, item, create)
		if err != nil {
			failed = append(failed, ports.Result{Key: item.Key, Err: err})
			continue
		}
		bodies = append(bodies, body)
	}
	if len(failed) > 0 {
		return nil, &ports.PartialBatchError{Kind: kind, Total: len(items), Failed: failed}
	}
	return bodies, nil
}

// encode builds the request body of one payload. References are taken from
// payload ids; nested objects without an id are referenced by slug or name.
// The MAC address is only written when listed explicitly.
func encode(kind models.EntityKind, item ports.Payload, create bool) (map[string]any, error) {
	switch kind {
	case models.KindDevice:
		return encodeDevice(item, create)
	case models.KindInterface:
		return encodeInterface(item, create)
	case models.KindIPAddress:
		return encodeIPAddress(item, create)
	case models.KindVLAN:
		return encodeVlan(item, create)
	case models.KindCable:
		return encodeCable(item, create)
	case models.KindInventoryItem:
		return encodeInventoryItem(item, create)
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func encodeDevice(item ports.Payload, create bool) (map[string]any, error) {
	dev, ok := item.Record.(models.Device)
	if !ok {
		return nil, rejected("device payload carries %T", item.Record)
	}
	body := map[string]any{}
	if create {
		if dev.Name == "" {
			return nil, rejected("device name is required")
		}
		body["name"] = dev.Name
		body["status"] = "active"
		if len(dev.Tags) > 0 {
			tags := make([]map[string]any, 0, len(dev.Tags))
			for _, t := range dev.Tags {
				tags = append(tags, map[string]any{"slug": t})
			}
			body["tags"] = tags
		}
	}
	if hasField(item.Fields, fieldModel) {
		body["device_type"] = map[string]any{"model": dev.Model}
	}
	if hasField(item.Fields, fieldSerial) {
		body["serial"] = dev.Serial
	}
	if hasField(item.Fields, fieldSite) {
		body["site"] = slugRef(dev.Site)
	}
	if hasField(item.Fields, fieldRole) {
		body["role"] = slugRef(dev.Role)
	}
	if hasField(item.Fields, fieldTenant) {
		body["tenant"] = nil
		if dev.Tenant != nil {
			body["tenant"] = slugRef(*dev.Tenant)
		}
	}
	if hasField(item.Fields, fieldPlatform) {
		body["platform"] = slugRef(dev.Platform)
	}
	return body, nil
}

func encodeInterface(item ports.Payload, create bool) (map[string]any, error) {
	ifc, ok := item.Record.(models.Interface)
	if !ok {
		return nil, rejected("interface payload carries %T", item.Record)
	}
	body := map[string]any{}
	if create {
		if item.Refs.DeviceID == 0 {
			return nil, rejected("interface %s needs a device id", item.Key)
		}
		body["device"] = item.Refs.DeviceID
		body["name"] = ifc.Name
	}
	if hasField(item.Fields, fieldEnabled) {
		body["enabled"] = ifc.Enabled
	}
	if hasField(item.Fields, fieldDescription) {
		body["description"] = deref(ifc.Description)
	}
	if hasField(item.Fields, fieldType) && ifc.Type != "" {
		body["type"] = ifc.Type
	}
	if hasField(item.Fields, fieldMode) {
		body["mode"] = string(ifc.Mode)
	}
	if hasField(item.Fields, fieldSpeed) {
		body["speed"] = ifc.Speed
	}
	if hasField(item.Fields, fieldDuplex) {
		body["duplex"] = ifc.Duplex
	}
	if hasField(item.Fields, fieldMTU) {
		body["mtu"] = ifc.MTU
	}
	if listed(item.Fields, fieldMAC) {
		body["mac_address"] = ifc.MAC
	}
	if hasField(item.Fields, fieldLAG) {
		body["lag"] = idRef(item.Refs.LAGID)
	}
	if hasField(item.Fields, fieldUntaggedVLAN) {
		body["untagged_vlan"] = idRef(item.Refs.UntaggedVLANID)
	}
	if hasField(item.Fields, fieldTaggedVLANs) {
		tagged := item.Refs.TaggedVLANIDs
		if tagged == nil {
			tagged = []int64{}
		}
		body["tagged_vlans"] = tagged
	}
	return body, nil
}

func encodeIPAddress(item ports.Payload, create bool) (map[string]any, error) {
	addr, ok := item.Record.(models.IPAddress)
	if !ok {
		return nil, rejected("ip address payload carries %T", item.Record)
	}
	body := map[string]any{}
	if create {
		body["address"] = models.NormalizePrefix(addr.Address)
		body["status"] = "active"
	}
	if hasField(item.Fields, fieldInterface) {
		body["assigned_object_type"] = nil
		body["assigned_object_id"] = nil
		if item.Refs.InterfaceID != 0 {
			body["assigned_object_type"] = interfaceObjectType
			body["assigned_object_id"] = item.Refs.InterfaceID
		}
	}
	if hasField(item.Fields, fieldTenant) {
		body["tenant"] = nil
		if addr.Tenant != nil {
			body["tenant"] = slugRef(*addr.Tenant)
		}
	}
	if hasField(item.Fields, fieldDescription) {
		body["description"] = deref(addr.Description)
	}
	return body, nil
}

func encodeVlan(item ports.Payload, create bool) (map[string]any, error) {
	vlan, ok := item.Record.(models.Vlan)
	if !ok {
		return nil, rejected("vlan payload carries %T", item.Record)
	}
	body := map[string]any{}
	if create {
		if vlan.VID < models.MinVlanID || vlan.VID > models.MaxVlanID {
			return nil, rejected("vlan id %d out of range", vlan.VID)
		}
		body["vid"] = vlan.VID
		body["site"] = slugRef(vlan.Site)
		body["status"] = "active"
	}
	if hasField(item.Fields, fieldName) {
		body["name"] = vlan.Name
	}
	return body, nil
}

// encodeCable only creates; cables have no updatable attributes
func encodeCable(item ports.Payload, create bool) (map[string]any, error) {
	if !create {
		return map[string]any{}, nil
	}
	if item.Refs.AInterfaceID == 0 || item.Refs.BInterfaceID == 0 {
		return nil, rejected("cable %s needs both interface ids", item.Key)
	}
	return map[string]any{
		"a_terminations": []map[string]any{{"object_type": interfaceObjectType, "object_id": item.Refs.AInterfaceID}},
		"b_terminations": []map[string]any{{"object_type": interfaceObjectType, "object_id": item.Refs.BInterfaceID}},
		"status":         "connected",
	}, nil
}

func encodeInventoryItem(item ports.Payload, create bool) (map[string]any, error) {
	it, ok := item.Record.(models.InventoryItem)
	if !ok {
		return nil, rejected("inventory item payload carries %T", item.Record)
	}
	body := map[string]any{}
	if create {
		if item.Refs.DeviceID == 0 {
			return nil, rejected("inventory item %s needs a device id", item.Key)
		}
		body["device"] = item.Refs.DeviceID
		body["name"] = it.Name
	}
	if hasField(item.Fields, fieldPartID) {
		body["part_id"] = it.PartID
	}
	if hasField(item.Fields, fieldSerial) {
		body["serial"] = it.Serial
	}
	if hasField(item.Fields, fieldDescription) {
		body["description"] = deref(it.Description)
	}
	if hasField(item.Fields, fieldManufacturer) {
		body["manufacturer"] = nil
		if it.Manufacturer != "" {
			body["manufacturer"] = map[string]any{"name": it.Manufacturer}
		}
	}
	return body, nil
}

// slugRef references a related object by slug, nil for an empty slug
func slugRef(slug string) any {
	if slug == "" {
		return nil
	}
	return map[string]any{"slug": slug}
}

func idRef(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// primaryField is the device attribute holding the primary address of the
// address family of prefix
func primaryField(prefix string) string {
	if p, err := netip.ParsePrefix(models.NormalizePrefix(prefix)); err == nil && p.Addr().Is6() {
		return "primary_ip6"
	}
	return "primary_ip4"
}
