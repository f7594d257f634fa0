package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVlanSet(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []int
		all      bool
	}{
		{name: "empty", input: "", expected: nil},
		{name: "single", input: "10", expected: []int{10}},
		{name: "list and range", input: "10,20,30-33", expected: []int{10, 20, 30, 31, 32, 33}},
		{name: "whitespace", input: " 5 , 7 - 8 ", expected: []int{5, 7, 8}},
		{name: "duplicates collapse", input: "10,10,9-11", expected: []int{9, 10, 11}},
		{name: "all", input: "ALL", all: true},
		{name: "all lower case", input: "all", all: true},
		{name: "all absorbs ids", input: "10,ALL", all: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseVlanSet(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.all, set.IsAll())
			assert.Equal(t, tt.expected, set.List())
		})
	}
}

func TestParseVlanSet_FormatError(t *testing.T) {
	for _, input := range []string{"abc", "10,x", "50-30", "0", "4095", "10-", "1-2-3"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseVlanSet(input)
			require.Error(t, err)
			var formatErr *FormatError
			assert.True(t, errors.As(err, &formatErr))
		})
	}
}

func TestVlanSet_RoundTrip(t *testing.T) {
	for _, input := range []string{"", "1", "10,20,30-50", "4094,1-3", "ALL", "100-101,103,105-107"} {
		t.Run(input, func(t *testing.T) {
			parsed, err := ParseVlanSet(input)
			require.NoError(t, err)

			again, err := ParseVlanSet(parsed.String())
			require.NoError(t, err)
			assert.True(t, parsed.Equal(again), "%q -> %q", input, parsed.String())
		})
	}
}

func TestVlanSet_String(t *testing.T) {
	set := NewVlanSet(30, 10, 31, 32, 20, 50)
	assert.Equal(t, "10,20,30-32,50", set.String())
	assert.Equal(t, "ALL", AllVlans().String())
	assert.Equal(t, "", NewVlanSet().String())
}

func TestVlanSet_DifferenceWithSelfIsEmpty(t *testing.T) {
	for _, set := range []VlanSet{NewVlanSet(), NewVlanSet(1, 2, 3), AllVlans(), {}} {
		assert.True(t, set.Difference(set).IsEmpty(), "set %q", set.String())
	}
}

func TestVlanSet_SetOperations(t *testing.T) {
	a := NewVlanSet(10, 20, 30)
	b := NewVlanSet(20, 40)

	assert.Equal(t, []int{10, 20, 30, 40}, a.Union(b).List())
	assert.Equal(t, []int{10, 30}, a.Difference(b).List())
	assert.True(t, a.Union(AllVlans()).IsAll())
	assert.True(t, AllVlans().Difference(a).IsAll())
	assert.True(t, a.Difference(AllVlans()).IsEmpty())
}

func TestVlanSet_Equal(t *testing.T) {
	assert.True(t, NewVlanSet(1, 2).Equal(NewVlanSet(2, 1)))
	assert.False(t, NewVlanSet(1, 2).Equal(NewVlanSet(1)))
	assert.True(t, AllVlans().Equal(AllVlans()))
	assert.False(t, AllVlans().Equal(NewVlanSet(1)))

	full := make([]int, 0, MaxVlanID)
	for id := MinVlanID; id <= MaxVlanID; id++ {
		full = append(full, id)
	}
	assert.False(t, AllVlans().Equal(NewVlanSet(full...)), "ALL is never expanded")
	assert.True(t, VlanSet{}.Equal(NewVlanSet()))
}

func TestVlanSet_Contains(t *testing.T) {
	set := NewVlanSet(10)
	assert.True(t, set.Contains(10))
	assert.False(t, set.Contains(11))
	assert.True(t, AllVlans().Contains(4094))
	assert.False(t, AllVlans().Contains(4095))
	assert.Equal(t, -1, AllVlans().Len())
}
