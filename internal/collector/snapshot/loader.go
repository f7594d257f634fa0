package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"

	"netsync/internal/domain/models"
)

// Options control normalization
type Options struct {
	// DefaultManufacturer is used for modules whose part id matches no
	// known vendor pattern
	DefaultManufacturer string
}

// Loader reads collector output files into normalized snapshots
type Loader struct {
	opts   Options
	logger logr.Logger
}

// NewLoader creates a snapshot loader
func NewLoader(opts Options, logger logr.Logger) *Loader {
	return &Loader{
		opts:   opts,
		logger: logger.WithName("snapshot-loader"),
	}
}

var extensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// Load reads every path. Directories are expanded to their snapshot files
// in name order, without recursion.
func (l *Loader) Load(paths ...string) ([]*models.Snapshot, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat snapshot path %q: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read snapshot dir %q: %w", p, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && IsSnapshotFile(e.Name()) {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	sort.Strings(files)

	var out []*models.Snapshot
	for _, f := range files {
		snaps, err := l.LoadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, snaps...)
	}
	return out, nil
}

// LoadFile reads one file. A YAML stream may hold several device documents.
func (l *Loader) LoadFile(path string) ([]*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", path, err)
	}
	snaps, err := l.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %q: %w", path, err)
	}
	return snaps, nil
}

// Decode parses and normalizes every document in data
func (l *Loader) Decode(data []byte) ([]*models.Snapshot, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []*models.Snapshot
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if doc.empty() {
			continue
		}
		snap, err := l.Normalize(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", len(out)+1, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Normalize converts a collector document into a snapshot. Records that
// cannot be parsed are moved to Rejected; only a missing hostname fails the
// whole document.
func (l *Loader) Normalize(doc Document) (*models.Snapshot, error) {
	host := models.DeviceKey(doc.Device.Hostname)
	if host == "" {
		return nil, &models.FormatError{Field: "hostname", Value: doc.Device.Hostname, Reason: "hostname is required"}
	}
	site := strings.ToLower(strings.TrimSpace(doc.Device.Site))

	snap := &models.Snapshot{
		Device: models.Device{
			Name:         host,
			Model:        strings.TrimSpace(doc.Device.Model),
			Serial:       strings.TrimSpace(doc.Device.Serial),
			Site:         site,
			Role:         strings.TrimSpace(doc.Device.Role),
			Tenant:       trimmed(doc.Device.Tenant),
			Platform:     strings.TrimSpace(doc.Device.Platform),
			ManagementIP: hostAddress(doc.Device.ManagementIP),
			ChassisMAC:   models.NormalizeMAC(doc.Device.ChassisMAC),
		},
	}

	for _, d := range doc.Interfaces {
		ifc, err := normalizeInterface(host, d)
		if err != nil {
			snap.Rejected = append(snap.Rejected, rejected(models.KindInterface, models.InterfaceKey(host, d.Name), err))
			continue
		}
		snap.Interfaces = append(snap.Interfaces, ifc)
	}

	for _, d := range doc.Addresses {
		addr, err := normalizeAddress(host, d)
		if err != nil {
			key := models.IPAddress{Device: host, Address: d.Address}.Key()
			snap.Rejected = append(snap.Rejected, rejected(models.KindIPAddress, key, err))
			continue
		}
		snap.IPAddresses = append(snap.IPAddresses, addr)
	}

	for _, d := range doc.VLANs {
		if d.VID < models.MinVlanID || d.VID > models.MaxVlanID {
			err := &models.FormatError{Field: "vid", Value: strconv.Itoa(d.VID), Reason: "vlan id is out of range"}
			snap.Rejected = append(snap.Rejected, rejected(models.KindVLAN, models.VlanKey(site, d.VID), err))
			continue
		}
		snap.VLANs = append(snap.VLANs, models.Vlan{Site: site, VID: d.VID, Name: strings.TrimSpace(d.Name)})
	}

	for _, d := range doc.Neighbors {
		if strings.TrimSpace(d.LocalInterface) == "" {
			err := &models.FormatError{Field: "local_interface", Value: d.LocalInterface, Reason: "local interface is required"}
			snap.Rejected = append(snap.Rejected, rejected(models.KindCable, host+":"+d.Hostname, err))
			continue
		}
		snap.Neighbors = append(snap.Neighbors, models.NeighborObservation{
			LocalInterface:     strings.TrimSpace(d.LocalInterface),
			RemoteHostname:     strings.TrimSpace(d.Hostname),
			RemoteManagementIP: hostAddress(d.ManagementIP),
			RemoteChassisMAC:   models.NormalizeMAC(d.ChassisMAC),
			RemotePort:         strings.TrimSpace(d.Port),
		})
	}

	for _, d := range doc.Inventory {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			err := &models.FormatError{Field: "name", Value: d.Name, Reason: "component name is required"}
			snap.Rejected = append(snap.Rejected, rejected(models.KindInventoryItem, host+"|", err))
			continue
		}
		snap.InventoryItems = append(snap.InventoryItems, models.InventoryItem{
			Device:       host,
			Name:         name,
			PartID:       strings.TrimSpace(d.PartID),
			Serial:       strings.TrimSpace(d.Serial),
			Description:  d.Description,
			Manufacturer: l.manufacturer(d),
		})
	}

	if len(snap.Rejected) > 0 {
		l.logger.Info("Rejected records", "device", host, "count", len(snap.Rejected))
		for _, r := range snap.Rejected {
			l.logger.V(1).Info("Rejected record", "device", host, "kind", r.Kind, "key", r.Key, "error", r.Err.Error())
		}
	}
	return snap, nil
}

func (l *Loader) manufacturer(d InventoryDoc) string {
	if m := strings.TrimSpace(d.Manufacturer); m != "" {
		return m
	}
	if m := models.ResolveManufacturer(d.PartID); m != "" {
		return m
	}
	return l.opts.DefaultManufacturer
}

func normalizeInterface(host string, d InterfaceDoc) (models.Interface, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return models.Interface{}, &models.FormatError{Field: "name", Value: d.Name, Reason: "interface name is required"}
	}

	ifc := models.Interface{
		Device:      host,
		Name:        name,
		Enabled:     ptr.Deref(d.Enabled, true),
		Description: d.Description,
		Type:        strings.ToLower(strings.TrimSpace(d.Type)),
		Speed:       d.Speed,
		Duplex:      lower(d.Duplex),
		MTU:         d.MTU,
		LAGParent:   trimmed(d.LAG),
	}

	mode, err := parseMode(d.Mode)
	if err != nil {
		return models.Interface{}, err
	}
	ifc.Mode = mode

	if d.MAC != nil {
		mac := models.NormalizeMAC(*d.MAC)
		if mac == "" && strings.TrimSpace(*d.MAC) != "" {
			return models.Interface{}, &models.FormatError{Field: "mac_address", Value: *d.MAC, Reason: "not a MAC address"}
		}
		ifc.MAC = &mac
	}

	if d.UntaggedVLAN != nil {
		vid := *d.UntaggedVLAN
		if vid < models.MinVlanID || vid > models.MaxVlanID {
			return models.Interface{}, &models.FormatError{Field: "untagged_vlan", Value: strconv.Itoa(vid), Reason: "vlan id is out of range"}
		}
		ifc.UntaggedVLAN = ptr.To(vid)
	}

	tagged, err := models.ParseVlanSet(string(d.TaggedVLANs))
	if err != nil {
		return models.Interface{}, err
	}
	ifc.TaggedVLANs = tagged
	if tagged.IsAll() && (mode == models.ModeTagged || mode == models.ModeNone) {
		ifc.Mode = models.ModeTaggedAll
	}
	return ifc, nil
}

func parseMode(s string) (models.InterfaceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "routed":
		return models.ModeNone, nil
	case "access":
		return models.ModeAccess, nil
	case "tagged", "trunk":
		return models.ModeTagged, nil
	case "tagged-all", "trunk-all":
		return models.ModeTaggedAll, nil
	default:
		return models.ModeNone, &models.FormatError{Field: "mode", Value: s, Reason: "unknown 802.1Q mode"}
	}
}

func normalizeAddress(host string, d AddressDoc) (models.IPAddress, error) {
	addr := models.NormalizePrefix(d.Address)
	if _, err := netip.ParsePrefix(addr); err != nil {
		return models.IPAddress{}, &models.FormatError{Field: "address", Value: d.Address, Reason: "not an address or prefix"}
	}
	ifname := strings.TrimSpace(d.Interface)
	if ifname == "" {
		return models.IPAddress{}, &models.FormatError{Field: "interface", Value: d.Interface, Reason: "assigned interface is required"}
	}
	return models.IPAddress{
		Device:      host,
		Address:     addr,
		Interface:   models.CanonicalInterfaceName(ifname),
		Tenant:      trimmed(d.Tenant),
		Description: d.Description,
		Primary:     d.Primary,
	}, nil
}

// hostAddress strips a prefix length from a management address
func hostAddress(s string) string {
	s = strings.TrimSpace(s)
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr().Unmap().String()
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap().String()
	}
	return s
}

func rejected(kind models.EntityKind, key string, err error) models.RejectedRecord {
	return models.RejectedRecord{Kind: kind, Key: key, Err: err}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return ptr.To(strings.TrimSpace(*s))
}

func lower(s *string) *string {
	if s == nil {
		return nil
	}
	return ptr.To(strings.ToLower(strings.TrimSpace(*s)))
}

// IsSnapshotFile reports whether name has a snapshot file extension
func IsSnapshotFile(name string) bool {
	return extensions[strings.ToLower(filepath.Ext(name))]
}
