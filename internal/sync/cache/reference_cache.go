package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

// Scope is a typed cache partition backed by one bulk list call
type Scope struct {
	Kind   models.EntityKind
	Site   string
	Device string
}

// VLANsOfSite is the scope holding every VLAN of a site
func VLANsOfSite(site string) Scope {
	return Scope{Kind: models.KindVLAN, Site: strings.ToLower(site)}
}

// InterfacesOfDevice is the scope holding every interface of a device
func InterfacesOfDevice(device string) Scope {
	return Scope{Kind: models.KindInterface, Device: models.DeviceKey(device)}
}

// DeviceByName is the scope holding a single device record
func DeviceByName(device string) Scope {
	return Scope{Kind: models.KindDevice, Device: models.DeviceKey(device)}
}

// Filter returns the remote filter that loads the scope
func (s Scope) Filter() ports.Filter {
	return ports.Filter{Site: s.Site, Device: s.Device}
}

// String returns a string representation of the scope
func (s Scope) String() string {
	switch {
	case s.Site != "":
		return fmt.Sprintf("%s@site=%s", s.Kind, s.Site)
	case s.Device != "":
		return fmt.Sprintf("%s@device=%s", s.Kind, s.Device)
	default:
		return string(s.Kind)
	}
}

type scopeEntry struct {
	loaded  bool
	records map[string]models.Record
	order   []string
}

func newScopeEntry() *scopeEntry {
	return &scopeEntry{records: make(map[string]models.Record)}
}

func (e *scopeEntry) put(rec models.Record) {
	key := rec.Key()
	if _, exists := e.records[key]; !exists {
		e.order = append(e.order, key)
	}
	e.records[key] = rec
}

func (e *scopeEntry) remove(key string) {
	if _, exists := e.records[key]; !exists {
		return
	}
	delete(e.records, key)
	for i, k := range e.order {
		if k == key {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Stats counts cache activity
type Stats struct {
	Loads  int64
	Hits   int64
	Misses int64
}

// ReferenceCache maps natural keys to remote ids for one run. Each scope is
// loaded with at most one bulk list call; concurrent first accesses share it.
type ReferenceCache struct {
	inventory ports.RemoteInventory
	logger    logr.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	scopes map[Scope]*scopeEntry

	siteMu    sync.Mutex
	siteLocks map[string]*sync.Mutex

	loads  atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64
}

// NewReferenceCache creates an empty cache reading from inventory
func NewReferenceCache(inventory ports.RemoteInventory, logger logr.Logger) *ReferenceCache {
	return &ReferenceCache{
		inventory: inventory,
		logger:    logger.WithName("reference-cache"),
		scopes:    make(map[Scope]*scopeEntry),
		siteLocks: make(map[string]*sync.Mutex),
	}
}

// Get returns the remote id for key within scope. The scope is loaded on
// first access; a miss on a loaded scope is a confirmed absence.
func (c *ReferenceCache) Get(ctx context.Context, scope Scope, key string) (int64, bool, error) {
	if id, found, loaded := c.lookup(scope, key); loaded {
		c.count(found)
		return id, found, nil
	}

	if err := c.load(ctx, scope); err != nil {
		return 0, false, err
	}

	id, found, _ := c.lookup(scope, key)
	c.count(found)
	return id, found, nil
}

// Lookup reads the cache without loading. loaded is false when the scope has
// not been fetched yet.
func (c *ReferenceCache) Lookup(scope Scope, key string) (id int64, found, loaded bool) {
	return c.lookup(scope, key)
}

// Keys returns the natural keys held for a loaded scope
func (c *ReferenceCache) Keys(scope Scope) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.scopes[scope]
	if !ok {
		return nil
	}
	return append([]string(nil), entry.order...)
}

// Records returns the records of scope, loading it on first access. Records
// put during the run are included.
func (c *ReferenceCache) Records(ctx context.Context, scope Scope) ([]models.Record, error) {
	if _, _, loaded := c.lookup(scope, ""); !loaded {
		if err := c.load(ctx, scope); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry := c.scopes[scope]
	out := make([]models.Record, 0, len(entry.order))
	for _, k := range entry.order {
		out = append(out, entry.records[k])
	}
	return out, nil
}

// Prime marks scope as loaded with the given records. Reconcilers that
// already fetched a scope in full use it to avoid a second list call.
func (c *ReferenceCache) Prime(scope Scope, records []models.Record) {
	c.store(scope, records)
}

// Put records a write made during the run. rec must carry its remote id.
func (c *ReferenceCache) Put(scope Scope, rec models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.scopes[scope]
	if !ok {
		entry = newScopeEntry()
		c.scopes[scope] = entry
	}
	entry.put(rec)
}

// Remove forgets a key, used after a delete
func (c *ReferenceCache) Remove(scope Scope, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.scopes[scope]; ok {
		entry.remove(key)
	}
}

// Invalidate drops a scope so the next access reloads it
func (c *ReferenceCache) Invalidate(scope Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.scopes, scope)
}

// LockSite serializes writes of site-scoped records. The returned function
// releases the lock.
func (c *ReferenceCache) LockSite(site string) func() {
	site = strings.ToLower(site)
	c.siteMu.Lock()
	mu, ok := c.siteLocks[site]
	if !ok {
		mu = &sync.Mutex{}
		c.siteLocks[site] = mu
	}
	c.siteMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Stats returns activity counters
func (c *ReferenceCache) Stats() Stats {
	return Stats{
		Loads:  c.loads.Load(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

func (c *ReferenceCache) lookup(scope Scope, key string) (int64, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.scopes[scope]
	if !ok || !entry.loaded {
		return 0, false, false
	}
	rec, found := entry.records[key]
	if !found {
		return 0, false, true
	}
	return rec.RemoteID(), true, true
}

func (c *ReferenceCache) count(found bool) {
	if found {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *ReferenceCache) load(ctx context.Context, scope Scope) error {
	_, err, _ := c.group.Do(scope.String(), func() (interface{}, error) {
		if _, _, loaded := c.lookup(scope, ""); loaded {
			return nil, nil
		}

		records, err := c.inventory.List(ctx, scope.Kind, scope.Filter())
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", scope, err)
		}
		c.loads.Add(1)
		c.store(scope, records)

		c.logger.V(1).Info("Loaded scope", "scope", scope.String(), "records", len(records))
		return nil, nil
	})
	return err
}

// store merges records into scope and marks it loaded. Records put before
// the load take precedence since they are newer.
func (c *ReferenceCache) store(scope Scope, records []models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.scopes[scope]
	if !ok {
		entry = newScopeEntry()
		c.scopes[scope] = entry
	}
	for _, r := range records {
		if _, exists := entry.records[r.Key()]; exists && !entry.loaded {
			continue
		}
		entry.put(r)
	}
	entry.loaded = true
}
