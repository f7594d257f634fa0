package mem

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

// ChangeLogEntry is one stored change with the run that produced it
type ChangeLogEntry struct {
	RunID  string
	Change models.Change
}

// ChangeLog keeps the audit trail in memory
type ChangeLog struct {
	mu      sync.RWMutex
	entries []ChangeLogEntry
	closed  bool
}

var _ ports.ChangeLog = (*ChangeLog)(nil)

// NewChangeLog creates an empty change log
func NewChangeLog() *ChangeLog {
	return &ChangeLog{}
}

// Append implements ports.ChangeLog
func (l *ChangeLog) Append(_ context.Context, runID string, changes []models.Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("change log is closed")
	}
	for _, c := range changes {
		l.entries = append(l.entries, ChangeLogEntry{RunID: runID, Change: c})
	}
	return nil
}

// Entries returns the changes of runID, or every change when runID is empty
func (l *ChangeLog) Entries(runID string) []ChangeLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ChangeLogEntry
	for _, e := range l.entries {
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Close implements ports.ChangeLog
func (l *ChangeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
