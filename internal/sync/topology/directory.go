package topology

import (
	"net"
	"strings"

	"netsync/internal/domain/models"
)

// Directory indexes known devices by every identity a neighbor report may
// carry. The first registration of an identity wins.
type Directory struct {
	hostToDevice    map[string]string
	ipToDevice      map[string]string
	chassisToDevice map[string]string
	// device -> canonical interface name -> true; nil when the device's
	// ports are unknown
	interfaces map[string]map[string]bool
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		hostToDevice:    make(map[string]string),
		ipToDevice:      make(map[string]string),
		chassisToDevice: make(map[string]string),
		interfaces:      make(map[string]map[string]bool),
	}
}

// NewDirectoryFromSnapshots registers every observed device with its ports
func NewDirectoryFromSnapshots(snapshots []*models.Snapshot) *Directory {
	dir := NewDirectory()
	for _, snap := range snapshots {
		dir.AddSnapshot(snap)
	}
	return dir
}

// AddSnapshot registers an observed device and its interfaces
func (d *Directory) AddSnapshot(snap *models.Snapshot) {
	names := make([]string, 0, len(snap.Interfaces))
	for _, ifc := range snap.Interfaces {
		names = append(names, ifc.Name)
	}
	d.AddDevice(snap.Device, names)
}

// AddDevice registers a device. interfaces may be nil when unknown.
func (d *Directory) AddDevice(dev models.Device, interfaces []string) {
	key := dev.Key()
	if key == "" {
		return
	}
	for _, alias := range HostAliases(dev.Name) {
		if _, exists := d.hostToDevice[alias]; !exists {
			d.hostToDevice[alias] = key
		}
	}
	if ip := CanonicalIP(dev.ManagementIP); ip != "" {
		if _, exists := d.ipToDevice[ip]; !exists {
			d.ipToDevice[ip] = key
		}
	}
	if mac := models.NormalizeMAC(dev.ChassisMAC); mac != "" {
		if _, exists := d.chassisToDevice[mac]; !exists {
			d.chassisToDevice[mac] = key
		}
	}
	if interfaces == nil {
		if _, exists := d.interfaces[key]; !exists {
			d.interfaces[key] = nil
		}
		return
	}
	ports := d.interfaces[key]
	if ports == nil {
		ports = make(map[string]bool, len(interfaces))
		d.interfaces[key] = ports
	}
	for _, name := range interfaces {
		ports[models.CanonicalInterfaceName(name)] = true
	}
}

// AddManagementIP maps an address to a device known only by its inventory
// records. It registers no ports.
func (d *Directory) AddManagementIP(address, device string) {
	ip, key := CanonicalIP(address), models.DeviceKey(device)
	if ip == "" || key == "" {
		return
	}
	if _, exists := d.ipToDevice[ip]; !exists {
		d.ipToDevice[ip] = key
	}
}

// AddChassisMAC maps a MAC to a device known only by its inventory records.
// It registers no ports.
func (d *Directory) AddChassisMAC(mac, device string) {
	mac, key := models.NormalizeMAC(mac), models.DeviceKey(device)
	if mac == "" || key == "" {
		return
	}
	if _, exists := d.chassisToDevice[mac]; !exists {
		d.chassisToDevice[mac] = key
	}
}

// Strategy names in evaluation order
const (
	ByHostname     = "hostname"
	ByManagementIP = "management-ip"
	ByChassisMAC   = "chassis-mac"
)

// ResolveDevice finds the device a neighbor report points to by hostname,
// then management IP, then chassis MAC
func (d *Directory) ResolveDevice(obs models.NeighborObservation) (device, strategy string, ok bool) {
	for _, alias := range HostAliases(obs.RemoteHostname) {
		if key, found := d.hostToDevice[alias]; found {
			return key, ByHostname, true
		}
	}
	if ip := CanonicalIP(obs.RemoteManagementIP); ip != "" {
		if key, found := d.ipToDevice[ip]; found {
			return key, ByManagementIP, true
		}
	}
	if mac := models.NormalizeMAC(obs.RemoteChassisMAC); mac != "" {
		if key, found := d.chassisToDevice[mac]; found {
			return key, ByChassisMAC, true
		}
	}
	return "", "", false
}

// ResolveInterface returns the canonical port name on device. When the
// device's ports are unknown the reported name is trusted.
func (d *Directory) ResolveInterface(device, reported string) (string, bool) {
	canonical := models.CanonicalInterfaceName(reported)
	if canonical == "" {
		return "", false
	}
	ports, known := d.interfaces[device]
	if !known || ports == nil {
		return canonical, true
	}
	return canonical, ports[canonical]
}

// hostAliases returns the lookup forms of a reported system name: the full
// lower-cased name and its short host part. CDP style "name(serial)" suffixes
// are stripped.
func HostAliases(name string) []string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(name, '('); i > 0 {
		name = strings.TrimSpace(name[:i])
	}
	if name == "" {
		return nil
	}
	aliases := []string{name}
	if short, _, found := strings.Cut(name, "."); found && short != "" && net.ParseIP(name) == nil {
		aliases = append(aliases, short)
	}
	return aliases
}

// CanonicalIP returns the host part of an address or "" when invalid
func CanonicalIP(value string) string {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, '/'); i > 0 {
		value = value[:i]
	}
	if ip := net.ParseIP(value); ip != nil {
		return ip.String()
	}
	return ""
}
