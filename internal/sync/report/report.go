package report

import (
	"sort"
	"sync"
	"time"

	"netsync/internal/domain/models"
)

// Outcome is the overall verdict of a run
type Outcome string

const (
	// OutcomeClean means nothing needed to change and nothing failed
	OutcomeClean Outcome = "clean"
	// OutcomeChanged means changes were planned or applied without errors
	OutcomeChanged Outcome = "changed"
	// OutcomeIncomplete means some changes were skipped because a reference
	// they need could not be resolved. Nothing failed.
	OutcomeIncomplete Outcome = "incomplete"
	// OutcomeFailed means at least one device or record failed
	OutcomeFailed Outcome = "failed"
)

// Device statuses
const (
	DeviceOK        = "ok"
	DeviceFailed    = "failed"
	DeviceCancelled = "cancelled"
)

// KindStats are the per-kind counters of a run
type KindStats struct {
	Created int `json:"created" yaml:"created"`
	Updated int `json:"updated" yaml:"updated"`
	Skipped int `json:"skipped" yaml:"skipped"`
	Deleted int `json:"deleted" yaml:"deleted"`
	Failed  int `json:"failed" yaml:"failed"`
}

// RunError is a failure of one kind for one device. Device is empty for
// run-level kinds.
type RunError struct {
	Device string            `json:"device,omitempty" yaml:"device,omitempty"`
	Kind   models.EntityKind `json:"kind" yaml:"kind"`
	Key    string            `json:"key,omitempty" yaml:"key,omitempty"`
	Error  string            `json:"error" yaml:"error"`
}

// DeviceReport is the per-device part of a run
type DeviceReport struct {
	Device       string                       `json:"device" yaml:"device"`
	Status       string                       `json:"status" yaml:"status"`
	FailedKinds  map[models.EntityKind]string `json:"failed_kinds,omitempty" yaml:"failed_kinds,omitempty"`
	SkippedKinds []models.EntityKind          `json:"skipped_kinds,omitempty" yaml:"skipped_kinds,omitempty"`
	Changes      []models.Change              `json:"changes,omitempty" yaml:"changes,omitempty"`
}

// Report aggregates the results of one reconciliation run. It is safe for
// concurrent use by device workers. Counters are commutative; each device's
// change list keeps emission order.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	DryRun     bool      `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	mu         sync.Mutex
	stats      map[models.EntityKind]*KindStats
	devices    map[string]*DeviceReport
	order      []string
	runChanges []models.Change
	errors     []RunError
	skipped    []RunError
}

// New creates an empty report
func New(runID string, dryRun bool) *Report {
	return &Report{
		RunID:     runID,
		DryRun:    dryRun,
		StartedAt: time.Now(),
		stats:     make(map[models.EntityKind]*KindStats),
		devices:   make(map[string]*DeviceReport),
	}
}

// AddDevice registers a device. Registration order is the output order.
func (r *Report) AddDevice(device string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device(device)
}

// Record appends a change. An empty device records a run-level change.
func (r *Report) Record(device string, change models.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	change.Device = device
	r.count(change)
	switch {
	case change.Status == models.StatusFailed:
		r.errors = append(r.errors, RunError{Device: device, Kind: change.Kind, Key: change.Key, Error: change.Error})
	case change.Status == models.StatusSkipped && change.Error != "":
		r.skipped = append(r.skipped, RunError{Device: device, Kind: change.Kind, Key: change.Key, Error: change.Error})
	}
	if device == "" {
		r.runChanges = append(r.runChanges, change)
		return
	}
	d := r.device(device)
	d.Changes = append(d.Changes, change)
	if change.Status == models.StatusFailed && d.Status == DeviceOK {
		d.Status = DeviceFailed
	}
}

// RecordSkipped counts records that matched and needed no change
func (r *Report) RecordSkipped(kind models.EntityKind, n int) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kindStats(kind).Skipped += n
}

// RecordFailure marks kind as failed for device. Dependent kinds of the
// device are skipped by the caller.
func (r *Report) RecordFailure(device string, kind models.EntityKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kindStats(kind).Failed++
	r.errors = append(r.errors, RunError{Device: device, Kind: kind, Error: err.Error()})
	if device == "" {
		return
	}
	d := r.device(device)
	d.Status = DeviceFailed
	if d.FailedKinds == nil {
		d.FailedKinds = make(map[models.EntityKind]string)
	}
	d.FailedKinds[kind] = err.Error()
}

// RecordRejected counts a record the normalization layer rejected
func (r *Report) RecordRejected(device string, rejected models.RejectedRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kindStats(rejected.Kind).Failed++
	msg := ""
	if rejected.Err != nil {
		msg = rejected.Err.Error()
	}
	r.errors = append(r.errors, RunError{Device: device, Kind: rejected.Kind, Key: rejected.Key, Error: msg})
}

// MarkSkipped records that kind was not processed for device because a
// dependency failed
func (r *Report) MarkSkipped(device string, kind models.EntityKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.device(device)
	d.SkippedKinds = append(d.SkippedKinds, kind)
}

// MarkCancelled records that device was never scheduled
func (r *Report) MarkCancelled(device string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.device(device)
	d.Status = DeviceCancelled
}

// Finish stamps the end time
func (r *Report) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
}

// Summary returns the per-kind counters
func (r *Report) Summary() map[models.EntityKind]KindStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := make(map[models.EntityKind]KindStats, len(r.stats))
	for kind, s := range r.stats {
		summary[kind] = *s
	}
	return summary
}

// Changes returns the full change list: every device's changes in
// registration order, followed by run-level changes
func (r *Report) Changes() []models.Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []models.Change
	for _, name := range r.order {
		changes = append(changes, r.devices[name].Changes...)
	}
	return append(changes, r.runChanges...)
}

// Devices returns the per-device reports in registration order
func (r *Report) Devices() []DeviceReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DeviceReport, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.devices[name])
	}
	return out
}

// Errors returns every recorded failure
func (r *Report) Errors() []RunError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunError(nil), r.errors...)
}

// SkippedWithErrors returns the changes that were skipped because of an
// error, such as a missing reference. They do not fail the run.
func (r *Report) SkippedWithErrors() []RunError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunError(nil), r.skipped...)
}

// HasSkippedWithErrors reports whether any change was skipped because of an error
func (r *Report) HasSkippedWithErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.skipped) > 0
}

// FailedDevices returns the sorted names of devices with a failed kind
func (r *Report) FailedDevices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []string
	for name, d := range r.devices {
		if d.Status == DeviceFailed {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// HasChanges reports whether any create, update or delete was planned or
// applied
func (r *Report) HasChanges() bool {
	for _, c := range r.Changes() {
		if c.Action == models.ActionSkip {
			continue
		}
		if c.Status == models.StatusPlanned || c.Status == models.StatusApplied {
			return true
		}
	}
	return false
}

// HasErrors reports whether anything failed
func (r *Report) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.errors) > 0 {
		return true
	}
	for _, s := range r.stats {
		if s.Failed > 0 {
			return true
		}
	}
	return false
}

// IsClean reports that nothing needed to change, nothing was skipped
// because of an error and nothing failed
func (r *Report) IsClean() bool {
	return !r.HasChanges() && !r.HasErrors() && !r.HasSkippedWithErrors()
}

// Outcome distinguishes clean, changed, incomplete and dirty-with-errors runs
func (r *Report) Outcome() Outcome {
	switch {
	case r.HasErrors():
		return OutcomeFailed
	case r.HasSkippedWithErrors():
		return OutcomeIncomplete
	case r.HasChanges():
		return OutcomeChanged
	default:
		return OutcomeClean
	}
}

func (r *Report) device(name string) *DeviceReport {
	d, ok := r.devices[name]
	if !ok {
		d = &DeviceReport{Device: name, Status: DeviceOK}
		r.devices[name] = d
		r.order = append(r.order, name)
	}
	return d
}

func (r *Report) kindStats(kind models.EntityKind) *KindStats {
	s, ok := r.stats[kind]
	if !ok {
		s = &KindStats{}
		r.stats[kind] = s
	}
	return s
}

func (r *Report) count(change models.Change) {
	s := r.kindStats(change.Kind)
	switch change.Status {
	case models.StatusFailed:
		s.Failed++
		return
	case models.StatusSkipped:
		s.Skipped++
		return
	}
	switch change.Action {
	case models.ActionCreate:
		s.Created++
	case models.ActionUpdate:
		s.Updated++
	case models.ActionDelete:
		s.Deleted++
	case models.ActionSkip:
		s.Skipped++
	}
}
