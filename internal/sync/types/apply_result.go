package types

import (
	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

// ItemError is the failure of one payload
type ItemError struct {
	Key string `json:"key"`
	Err error  `json:"-"`
}

// Message returns the error text
func (e ItemError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// ApplyResult represents the outcome of writing one bucket of a diff
type ApplyResult struct {
	Kind   models.EntityKind `json:"kind"`
	Action models.Action     `json:"action"`

	// Applied holds the successful writes with their remote ids, in input order
	Applied []ports.Result `json:"-"`

	// Errors holds one entry per failed item
	Errors []ItemError `json:"-"`

	TotalRequested int `json:"total_requested"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Deleted        int `json:"deleted"`
	Failed         int `json:"failed"`

	// SecondaryFailed counts items written by the primary call whose
	// follow-up attribute pass failed
	SecondaryFailed int `json:"secondary_failed"`

	// BulkCalls and ItemCalls count remote write calls
	BulkCalls int `json:"bulk_calls"`
	ItemCalls int `json:"item_calls"`
}

// NewApplyResult creates an empty result
func NewApplyResult(kind models.EntityKind, action models.Action) *ApplyResult {
	return &ApplyResult{
		Kind:    kind,
		Action:  action,
		Applied: make([]ports.Result, 0),
		Errors:  make([]ItemError, 0),
	}
}

// AddApplied records a successful write
func (r *ApplyResult) AddApplied(res ports.Result) {
	r.Applied = append(r.Applied, res)
	switch r.Action {
	case models.ActionCreate:
		r.Created++
	case models.ActionUpdate:
		r.Updated++
	case models.ActionDelete:
		r.Deleted++
	}
}

// AddFailed records a failed write
func (r *ApplyResult) AddFailed(key string, err error) {
	r.Errors = append(r.Errors, ItemError{Key: key, Err: err})
	r.Failed++
}

// AddSecondaryFailed records a failed follow-up write of an applied item
func (r *ApplyResult) AddSecondaryFailed(key string, err error) {
	r.Errors = append(r.Errors, ItemError{Key: key, Err: err})
	r.SecondaryFailed++
}

// Merge adds other into r
func (r *ApplyResult) Merge(other *ApplyResult) {
	if other == nil {
		return
	}
	r.Applied = append(r.Applied, other.Applied...)
	r.Errors = append(r.Errors, other.Errors...)
	r.TotalRequested += other.TotalRequested
	r.Created += other.Created
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Failed += other.Failed
	r.SecondaryFailed += other.SecondaryFailed
	r.BulkCalls += other.BulkCalls
	r.ItemCalls += other.ItemCalls
}

// HasErrors returns true if any item failed
func (r *ApplyResult) HasErrors() bool {
	return r.Failed > 0 || r.SecondaryFailed > 0
}

// Error returns the error recorded for key
func (r *ApplyResult) Error(key string) error {
	for _, e := range r.Errors {
		if e.Key == key {
			return e.Err
		}
	}
	return nil
}

// Result returns the applied result for key
func (r *ApplyResult) Result(key string) (ports.Result, bool) {
	for _, a := range r.Applied {
		if a.Key == key {
			return a, true
		}
	}
	return ports.Result{}, false
}

// IDs maps the keys of applied items to their remote ids
func (r *ApplyResult) IDs() map[string]int64 {
	ids := make(map[string]int64, len(r.Applied))
	for _, a := range r.Applied {
		ids[a.Key] = a.ID
	}
	return ids
}

// SuccessRate returns the success rate as a percentage (0-100)
func (r *ApplyResult) SuccessRate() float64 {
	if r.TotalRequested == 0 {
		return 100.0
	}
	return float64(len(r.Applied)) / float64(r.TotalRequested) * 100.0
}
