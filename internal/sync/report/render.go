package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"netsync/internal/domain/models"
)

// Output formats
const (
	FormatText = "text"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Document is the serializable form of a report
type Document struct {
	RunID         string                          `json:"run_id" yaml:"run_id"`
	DryRun        bool                            `json:"dry_run" yaml:"dry_run"`
	Outcome       Outcome                         `json:"outcome" yaml:"outcome"`
	StartedAt     string                          `json:"started_at" yaml:"started_at"`
	FinishedAt    string                          `json:"finished_at" yaml:"finished_at"`
	Summary       map[models.EntityKind]KindStats `json:"summary" yaml:"summary"`
	Devices       []DeviceReport                  `json:"devices" yaml:"devices"`
	Errors        []RunError                      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Skipped       []RunError                      `json:"skipped_with_errors,omitempty" yaml:"skipped_with_errors,omitempty"`
	FailedDevices []string                        `json:"failed_devices,omitempty" yaml:"failed_devices,omitempty"`
}

// Document returns a snapshot of the report for serialization
func (r *Report) Document() Document {
	doc := Document{
		RunID:         r.RunID,
		DryRun:        r.DryRun,
		Outcome:       r.Outcome(),
		Summary:       r.Summary(),
		Devices:       r.Devices(),
		Errors:        r.Errors(),
		Skipped:       r.SkippedWithErrors(),
		FailedDevices: r.FailedDevices(),
	}
	r.mu.Lock()
	doc.StartedAt = r.StartedAt.UTC().Format("2006-01-02T15:04:05Z")
	if !r.FinishedAt.IsZero() {
		doc.FinishedAt = r.FinishedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	r.mu.Unlock()
	return doc
}

// Write renders the report in format
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case FormatText, "":
		return r.writeText(w)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r.Document()); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r.Document())
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func (r *Report) writeText(w io.Writer) error {
	mode := "apply"
	if r.DryRun {
		mode = "dry-run"
	}
	if _, err := fmt.Fprintf(w, "run %s (%s): %s\n\n", r.RunID, mode, r.Outcome()); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCREATED\tUPDATED\tDELETED\tSKIPPED\tFAILED")
	summary := r.Summary()
	for _, kind := range models.KindOrder {
		s, ok := summary[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", kind, s.Created, s.Updated, s.Deleted, s.Skipped, s.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, c := range r.Changes() {
		if c.Action == models.ActionSkip && c.Status != models.StatusFailed {
			continue
		}
		line := fmt.Sprintf("  %-7s %-15s %s [%s]", c.Action, c.Kind, c.Key, c.Status)
		if len(c.Fields) > 0 {
			fields := make([]string, 0, len(c.Fields))
			for _, f := range c.Fields {
				fields = append(fields, f.String())
			}
			line += " " + strings.Join(fields, ", ")
		}
		if c.Error != "" {
			line += ": " + c.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	for _, e := range r.SkippedWithErrors() {
		if _, err := fmt.Fprintf(w, "skipped %s %s %s: %s\n", e.Device, e.Kind, e.Key, e.Error); err != nil {
			return err
		}
	}
	for _, e := range r.Errors() {
		where := e.Device
		if where == "" {
			where = "run"
		}
		if _, err := fmt.Fprintf(w, "error %s %s: %s\n", where, e.Kind, e.Error); err != nil {
			return err
		}
	}
	return nil
}
