package models

import (
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// MinVlanID is the lowest usable 802.1Q VLAN id
	MinVlanID = 1
	// MaxVlanID is the highest usable 802.1Q VLAN id
	MaxVlanID = 4094

	allVlansToken = "ALL"
)

// VlanSet is a set of VLAN ids. The ALL marker stands for every VLAN and is
// never expanded.
type VlanSet struct {
	all bool
	ids sets.Set[int]
}

// NewVlanSet creates a set holding the given ids
func NewVlanSet(ids ...int) VlanSet {
	return VlanSet{ids: sets.New(ids...)}
}

// AllVlans returns the ALL marker set
func AllVlans() VlanSet {
	return VlanSet{all: true}
}

// ParseVlanSet parses range notation such as "10,20,30-50" or "ALL".
// An empty string is the empty set.
func ParseVlanSet(text string) (VlanSet, error) {
	result := VlanSet{ids: sets.New[int]()}
	for _, raw := range strings.Split(text, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if strings.EqualFold(token, allVlansToken) {
			result.all = true
			continue
		}
		lo, hi, found := strings.Cut(token, "-")
		start, err := parseVlanID(text, lo)
		if err != nil {
			return VlanSet{}, err
		}
		end := start
		if found {
			if end, err = parseVlanID(text, hi); err != nil {
				return VlanSet{}, err
			}
			if end < start {
				return VlanSet{}, &FormatError{Field: "vlan range", Value: text, Reason: "range " + token + " is reversed"}
			}
		}
		for id := start; id <= end; id++ {
			result.ids.Insert(id)
		}
	}
	if result.all {
		return AllVlans(), nil
	}
	return result, nil
}

func parseVlanID(text, token string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil {
		return 0, &FormatError{Field: "vlan range", Value: text, Reason: "token " + strconv.Quote(token) + " is not a number"}
	}
	if id < MinVlanID || id > MaxVlanID {
		return 0, &FormatError{Field: "vlan range", Value: text, Reason: "vlan " + token + " is out of range"}
	}
	return id, nil
}

// IsAll reports whether the set is the ALL marker
func (s VlanSet) IsAll() bool {
	return s.all
}

// IsEmpty reports whether the set has no members
func (s VlanSet) IsEmpty() bool {
	return !s.all && s.ids.Len() == 0
}

// Len returns the number of enumerated ids, or -1 for ALL
func (s VlanSet) Len() int {
	if s.all {
		return -1
	}
	return s.ids.Len()
}

// Contains reports whether id is a member
func (s VlanSet) Contains(id int) bool {
	if s.all {
		return id >= MinVlanID && id <= MaxVlanID
	}
	return s.ids.Has(id)
}

// List returns the enumerated ids in ascending order. ALL yields nil.
func (s VlanSet) List() []int {
	if s.all || s.ids.Len() == 0 {
		return nil
	}
	return sets.List(s.ids)
}

// Union returns s ∪ other
func (s VlanSet) Union(other VlanSet) VlanSet {
	if s.all || other.all {
		return AllVlans()
	}
	return VlanSet{ids: s.ids.Union(other.ids)}
}

// Difference returns s − other. ALL minus a finite set stays ALL because the
// complement is not enumerated.
func (s VlanSet) Difference(other VlanSet) VlanSet {
	switch {
	case other.all:
		return NewVlanSet()
	case s.all:
		return AllVlans()
	}
	return VlanSet{ids: s.ids.Difference(other.ids)}
}

// Equal reports set equality. ALL equals only ALL.
func (s VlanSet) Equal(other VlanSet) bool {
	if s.all || other.all {
		return s.all == other.all
	}
	return s.ids.Equal(other.ids)
}

// String formats the set in compressed range notation
func (s VlanSet) String() string {
	if s.all {
		return allVlansToken
	}
	ids := s.List()
	if len(ids) == 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(ids); {
		j := i
		for j+1 < len(ids) && ids[j+1] == ids[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(ids[i]))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(ids[j]))
		}
		i = j + 1
	}
	return b.String()
}
