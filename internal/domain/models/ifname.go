package models

import (
	"strings"
	"unicode"
)

// interfaceAliases maps lower-cased vendor type prefixes to canonical short forms
var interfaceAliases = map[string]string{
	"hundredgigabitethernet": "Hu",
	"hundredgige":            "Hu",
	"hu":                     "Hu",
	"fortygigabitethernet":   "Fo",
	"fortygige":              "Fo",
	"fo":                     "Fo",
	"twentyfivegige":         "Twe",
	"twe":                    "Twe",
	"tengigabitethernet":     "Te",
	"tengige":                "Te",
	"te":                     "Te",
	"gigabitethernet":        "Gi",
	"gige":                   "Gi",
	"gi":                     "Gi",
	"fastethernet":           "Fa",
	"fa":                     "Fa",
	"ethernet":               "Eth",
	"eth":                    "Eth",
	"et":                     "Eth",
	"port-channel":           "Po",
	"portchannel":            "Po",
	"po":                     "Po",
	"bundle-ether":           "BE",
	"be":                     "BE",
	"loopback":               "Lo",
	"lo":                     "Lo",
	"management":             "Mgmt",
	"mgmt":                   "Mgmt",
	"vlan":                   "Vlan",
	"vl":                     "Vlan",
	"tunnel":                 "Tu",
	"tu":                     "Tu",
}

// lagPrefixes are canonical prefixes of link aggregation interfaces
var lagPrefixes = []string{"Po", "BE", "ae", "bond"}

// CanonicalInterfaceName returns the vendor-neutral short form of an
// interface name: "GigabitEthernet0/1" and "Gi0/1" both become "Gi0/1".
// Names with an unknown type prefix are returned trimmed but otherwise intact.
func CanonicalInterfaceName(name string) string {
	name = strings.Join(strings.Fields(name), "")
	idx := strings.IndexFunc(name, unicode.IsDigit)
	if idx <= 0 {
		return name
	}
	if short, ok := interfaceAliases[strings.ToLower(name[:idx])]; ok {
		return short + name[idx:]
	}
	return name
}

// SameInterface reports whether two reported names refer to the same port
func SameInterface(a, b string) bool {
	return CanonicalInterfaceName(a) == CanonicalInterfaceName(b)
}

// IsLAGName reports whether a canonical name looks like an aggregate
func IsLAGName(name string) bool {
	idx := strings.IndexFunc(name, unicode.IsDigit)
	if idx <= 0 {
		return false
	}
	prefix := name[:idx]
	for _, p := range lagPrefixes {
		if prefix == p {
			return true
		}
	}
	return false
}
