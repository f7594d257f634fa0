package compare

import (
	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

// Field selects one attribute of T for comparison
type Field[T any] struct {
	Name string
	// Value renders the attribute for the change log
	Value func(T) string
	// Equal compares the attribute. When nil the rendered values are compared.
	Equal func(local, remote T) bool
	// Ignore skips the attribute for a particular pair
	Ignore func(local, remote T) bool
}

func (f Field[T]) equal(local, remote T) bool {
	if f.Equal != nil {
		return f.Equal(local, remote)
	}
	return f.Value(local) == f.Value(remote)
}

// Pair is a local record matched to its remote counterpart
type Pair[T any] struct {
	Local   T
	Remote  T
	Changes []models.FieldChange
}

// Diff classifies local and remote records
type Diff[T any] struct {
	Create           []T
	Update           []Pair[T]
	Skip             []Pair[T]
	DeleteCandidates []T
}

// HasChanges reports whether anything needs to be created or updated
func (d *Diff[T]) HasChanges() bool {
	return len(d.Create) > 0 || len(d.Update) > 0
}

// Compare indexes both sides by key and classifies every record.
//
// Local records missing remotely are created, matched records with a differing
// selected field are updated and the rest are skipped. Remote records with no
// local counterpart become delete candidates. Creates, updates and skips follow
// local order, delete candidates follow remote order. A duplicate key on either
// side returns a ConflictError.
func Compare[T any](kind models.EntityKind, local, remote []T, key func(T) string, fields []Field[T]) (*Diff[T], error) {
	remoteByKey, err := index(kind, "remote", remote, key)
	if err != nil {
		return nil, err
	}
	localByKey, err := index(kind, "local", local, key)
	if err != nil {
		return nil, err
	}

	diff := &Diff[T]{}
	for _, l := range local {
		r, exists := remoteByKey[key(l)]
		if !exists {
			diff.Create = append(diff.Create, l)
			continue
		}
		changes := Changes(l, r, fields)
		if len(changes) > 0 {
			diff.Update = append(diff.Update, Pair[T]{Local: l, Remote: r, Changes: changes})
		} else {
			diff.Skip = append(diff.Skip, Pair[T]{Local: l, Remote: r})
		}
	}

	for _, r := range remote {
		if _, exists := localByKey[key(r)]; !exists {
			diff.DeleteCandidates = append(diff.DeleteCandidates, r)
		}
	}
	return diff, nil
}

// Changes returns the differing fields between local and remote. Old is the
// remote value, New the local one.
func Changes[T any](local, remote T, fields []Field[T]) []models.FieldChange {
	var changes []models.FieldChange
	for _, f := range fields {
		if f.Ignore != nil && f.Ignore(local, remote) {
			continue
		}
		if f.equal(local, remote) {
			continue
		}
		changes = append(changes, models.FieldChange{
			Name: f.Name,
			Old:  f.Value(remote),
			New:  f.Value(local),
		})
	}
	return changes
}

func index[T any](kind models.EntityKind, side string, records []T, key func(T) string) (map[string]T, error) {
	byKey := make(map[string]T, len(records))
	for _, rec := range records {
		k := key(rec)
		if _, dup := byKey[k]; dup {
			return nil, &ports.ConflictError{Kind: kind, Key: k, Side: side}
		}
		byKey[k] = rec
	}
	return byKey, nil
}

// Select keeps the fields whose names are listed. An empty list keeps all.
func Select[T any](fields []Field[T], names []string) []Field[T] {
	if len(names) == 0 {
		return fields
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make([]Field[T], 0, len(names))
	for _, f := range fields {
		if wanted[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the names of fields
func Names[T any](fields []Field[T]) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names
}

// Exclude drops the named fields
func Exclude[T any](fields []Field[T], names ...string) []Field[T] {
	out := make([]Field[T], 0, len(fields))
	for _, f := range fields {
		skip := false
		for _, n := range names {
			if f.Name == n {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, f)
		}
	}
	return out
}
