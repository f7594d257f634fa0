package models

import "fmt"

// Action is the classification of one record in a diff
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
	ActionDelete Action = "delete"
)

// ChangeStatus tells whether a planned change was written
type ChangeStatus string

const (
	StatusPlanned ChangeStatus = "planned"
	StatusApplied ChangeStatus = "applied"
	StatusFailed  ChangeStatus = "failed"
	// StatusSkipped marks a change that was not attempted, for example an
	// assignment whose referenced VLAN does not exist remotely.
	StatusSkipped ChangeStatus = "skipped"
)

// FieldChange is one attribute difference
type FieldChange struct {
	Name string `json:"name" yaml:"name"`
	Old  string `json:"old" yaml:"old"`
	New  string `json:"new" yaml:"new"`
}

// String returns name: old→new
func (f FieldChange) String() string {
	return fmt.Sprintf("%s: %q→%q", f.Name, f.Old, f.New)
}

// Change is one entry of the audit trail
type Change struct {
	Kind   EntityKind    `json:"kind" yaml:"kind"`
	Device string        `json:"device" yaml:"device"`
	Key    string        `json:"key" yaml:"key"`
	Action Action        `json:"action" yaml:"action"`
	Fields []FieldChange `json:"fields,omitempty" yaml:"fields,omitempty"`
	Status ChangeStatus  `json:"status" yaml:"status"`
	Error  string        `json:"error,omitempty" yaml:"error,omitempty"`
}
