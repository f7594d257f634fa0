package mem

import (
	"sort"
	"sync"

	"netsync/internal/domain/models"
)

// table holds the records of one kind indexed by id and natural key
type table struct {
	byID  map[int64]models.Record
	byKey map[string]int64
}

func newTable() *table {
	return &table{
		byID:  make(map[int64]models.Record),
		byKey: make(map[string]int64),
	}
}

func (t *table) put(rec models.Record) {
	if old, ok := t.byID[rec.RemoteID()]; ok {
		delete(t.byKey, old.Key())
	}
	t.byID[rec.RemoteID()] = rec
	t.byKey[rec.Key()] = rec.RemoteID()
}

func (t *table) remove(id int64) {
	if rec, ok := t.byID[id]; ok {
		delete(t.byKey, rec.Key())
		delete(t.byID, id)
	}
}

func (t *table) lookup(key string) (models.Record, bool) {
	id, ok := t.byKey[key]
	if !ok {
		return nil, false
	}
	return t.byID[id], true
}

// sorted returns the records in id order
func (t *table) sorted() []models.Record {
	ids := make([]int64, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[id])
	}
	return out
}

// MemDB in-memory inventory database
type MemDB struct {
	tables map[models.EntityKind]*table
	// primary maps a device id to its primary address id
	primary map[int64]int64
	nextID  int64
	mu      sync.RWMutex
}

// NewMemDB creates a new in-memory database
func NewMemDB() *MemDB {
	db := &MemDB{
		tables:  make(map[models.EntityKind]*table, len(models.KindOrder)),
		primary: make(map[int64]int64),
	}
	for _, kind := range models.KindOrder {
		db.tables[kind] = newTable()
	}
	return db
}

// allocID returns the next record id. Callers hold the write lock.
func (db *MemDB) allocID() int64 {
	db.nextID++
	return db.nextID
}

func (db *MemDB) table(kind models.EntityKind) *table {
	return db.tables[kind]
}

// Count returns the number of stored records of kind
func (db *MemDB) Count(kind models.EntityKind) int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.tables[kind].byID)
}

// Records returns the stored records of kind in id order
func (db *MemDB) Records(kind models.EntityKind) []models.Record {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tables[kind].sorted()
}
