package ports

import (
	"fmt"
	"strings"
)

// Filter bounds a remote list call to a subset of the inventory
type Filter struct {
	Site    string
	Tenant  string
	Device  string
	Devices []string
	Tag     string
	// Addresses selects ip addresses by host address, whatever their mask
	Addresses []string
	// MACs selects interfaces by MAC address
	MACs []string
}

// IsEmpty returns true when the filter selects everything
func (f Filter) IsEmpty() bool {
	return f.Site == "" && f.Tenant == "" && f.Device == "" && len(f.Devices) == 0 && f.Tag == "" &&
		len(f.Addresses) == 0 && len(f.MACs) == 0
}

// String returns a string representation of the filter
func (f Filter) String() string {
	if f.IsEmpty() {
		return "all"
	}

	parts := make([]string, 0, 7)
	if f.Site != "" {
		parts = append(parts, "site="+f.Site)
	}
	if f.Tenant != "" {
		parts = append(parts, "tenant="+f.Tenant)
	}
	if f.Device != "" {
		parts = append(parts, "device="+f.Device)
	}
	if len(f.Devices) > 0 {
		parts = append(parts, fmt.Sprintf("devices=%s", strings.Join(f.Devices, ",")))
	}
	if f.Tag != "" {
		parts = append(parts, "tag="+f.Tag)
	}
	if len(f.Addresses) > 0 {
		parts = append(parts, "addresses="+strings.Join(f.Addresses, ","))
	}
	if len(f.MACs) > 0 {
		parts = append(parts, "macs="+strings.Join(f.MACs, ","))
	}
	return strings.Join(parts, ";")
}

// SiteFilter selects records of one site
func SiteFilter(site string) Filter {
	return Filter{Site: site}
}

// DeviceFilter selects records of one device
func DeviceFilter(device string) Filter {
	return Filter{Device: device}
}

// DevicesFilter selects records of any of the given devices
func DevicesFilter(devices ...string) Filter {
	return Filter{Devices: devices}
}

// AddressesFilter selects ip addresses by host address
func AddressesFilter(addresses ...string) Filter {
	return Filter{Addresses: addresses}
}

// MACsFilter selects interfaces by MAC address
func MACsFilter(macs ...string) Filter {
	return Filter{MACs: macs}
}
