package mem

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/utils"
)

// Inventory is an in-memory ports.RemoteInventory. It resolves references
// by id like the real inventory does and bulk writes are atomic: one
// rejected item rejects the whole call.
type Inventory struct {
	db *MemDB

	mu       sync.Mutex
	calls    map[string]int
	failures []*callFailure
	rejected map[string]string
}

type callFailure struct {
	kind  models.EntityKind
	op    string
	err   error
	times int
}

var _ ports.RemoteInventory = (*Inventory)(nil)

// NewInventory creates an empty inventory
func NewInventory() *Inventory {
	return &Inventory{
		db:       NewMemDB(),
		calls:    make(map[string]int),
		rejected: make(map[string]string),
	}
}

// DB returns the backing database
func (inv *Inventory) DB() *MemDB {
	return inv.db
}

// Seed stores records as given. Records without an id get one.
func (inv *Inventory) Seed(records ...models.Record) error {
	inv.db.mu.Lock()
	defer inv.db.mu.Unlock()

	for _, rec := range records {
		kind, err := kindOf(rec)
		if err != nil {
			return err
		}
		tbl := inv.db.table(kind)
		if _, exists := tbl.lookup(rec.Key()); exists {
			return errors.Errorf("seed %s: duplicate key %q", kind, rec.Key())
		}
		id := rec.RemoteID()
		if id == 0 {
			id = inv.db.allocID()
		} else if id > inv.db.nextID {
			inv.db.nextID = id
		}
		tbl.put(withID(rec, id))

		if addr, ok := rec.(models.IPAddress); ok && addr.Primary {
			if dev, found := inv.db.table(models.KindDevice).lookup(models.DeviceKey(addr.Device)); found {
				inv.db.primary[dev.RemoteID()] = id
			}
		}
	}
	return nil
}

// FailCalls makes the next times calls of op on kind fail with err. An
// empty op matches every operation; times <= 0 fails forever.
func (inv *Inventory) FailCalls(kind models.EntityKind, op string, err error, times int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.failures = append(inv.failures, &callFailure{kind: kind, op: op, err: err, times: times})
}

// RejectKey makes every write of key fail validation with reason
func (inv *Inventory) RejectKey(kind models.EntityKind, key, reason string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.rejected[string(kind)+"|"+key] = reason
}

// Calls returns how many times op was called on kind
func (inv *Inventory) Calls(kind models.EntityKind, op string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.calls[string(kind)+"|"+op]
}

// Writes returns the number of write calls of every kind
func (inv *Inventory) Writes() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	total := 0
	for k, n := range inv.calls {
		op := k[strings.LastIndex(k, "|")+1:]
		if op != utils.OpList && op != opGet {
			total += n
		}
	}
	return total
}

// ResetCalls clears the call counters
func (inv *Inventory) ResetCalls() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.calls = make(map[string]int)
}

const opGet = "get"

// begin counts a call and returns an injected failure, if any
func (inv *Inventory) begin(ctx context.Context, kind models.EntityKind, op string) error {
	if err := ctx.Err(); err != nil {
		return &ports.TransportError{Op: op, Err: err}
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.calls[string(kind)+"|"+op]++

	for i, f := range inv.failures {
		if f.kind != kind || (f.op != "" && f.op != op) {
			continue
		}
		if f.times > 0 {
			f.times--
			if f.times == 0 {
				inv.failures = append(inv.failures[:i], inv.failures[i+1:]...)
			}
		}
		return f.err
	}
	return nil
}

func (inv *Inventory) rejection(kind models.EntityKind, key string) (string, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	reason, ok := inv.rejected[string(kind)+"|"+key]
	return reason, ok
}

// List implements ports.RemoteInventory
func (inv *Inventory) List(ctx context.Context, kind models.EntityKind, filter ports.Filter) ([]models.Record, error) {
	if err := inv.begin(ctx, kind, utils.OpList); err != nil {
		return nil, err
	}
	inv.db.mu.RLock()
	defer inv.db.mu.RUnlock()

	tbl := inv.db.table(kind)
	if tbl == nil {
		return nil, errors.Errorf("unknown kind %q", kind)
	}

	var out []models.Record
	for _, rec := range tbl.sorted() {
		if inv.matches(rec, filter) {
			out = append(out, inv.present(rec))
		}
	}
	return out, nil
}

// Get implements ports.RemoteInventory
func (inv *Inventory) Get(ctx context.Context, kind models.EntityKind, key string) (models.Record, error) {
	if err := inv.begin(ctx, kind, opGet); err != nil {
		return nil, err
	}
	inv.db.mu.RLock()
	defer inv.db.mu.RUnlock()

	tbl := inv.db.table(kind)
	if tbl == nil {
		return nil, errors.Errorf("unknown kind %q", kind)
	}
	rec, ok := tbl.lookup(key)
	if !ok {
		return nil, &ports.NotFoundError{Kind: kind, Key: key}
	}
	return inv.present(rec), nil
}

// BulkCreate implements ports.RemoteInventory
func (inv *Inventory) BulkCreate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	return inv.bulk(ctx, kind, models.ActionCreate, utils.OpBulkCreate, items)
}

// BulkUpdate implements ports.RemoteInventory
func (inv *Inventory) BulkUpdate(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	return inv.bulk(ctx, kind, models.ActionUpdate, utils.OpBulkUpdate, items)
}

// BulkDelete implements ports.RemoteInventory
func (inv *Inventory) BulkDelete(ctx context.Context, kind models.EntityKind, items []ports.Payload) ([]ports.Result, error) {
	return inv.bulk(ctx, kind, models.ActionDelete, utils.OpBulkDelete, items)
}

// Create implements ports.RemoteInventory
func (inv *Inventory) Create(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	return inv.single(ctx, kind, models.ActionCreate, utils.OpCreate, item)
}

// Update implements ports.RemoteInventory
func (inv *Inventory) Update(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	return inv.single(ctx, kind, models.ActionUpdate, utils.OpUpdate, item)
}

// Delete implements ports.RemoteInventory
func (inv *Inventory) Delete(ctx context.Context, kind models.EntityKind, item ports.Payload) (ports.Result, error) {
	return inv.single(ctx, kind, models.ActionDelete, utils.OpDelete, item)
}

func (inv *Inventory) single(ctx context.Context, kind models.EntityKind, action models.Action, op string, item ports.Payload) (ports.Result, error) {
	if err := inv.begin(ctx, kind, op); err != nil {
		return ports.Result{}, err
	}
	inv.db.mu.Lock()
	defer inv.db.mu.Unlock()

	w, err := inv.prepare(kind, action, item, sets.New[string]())
	if err != nil {
		return ports.Result{Key: item.Key, Err: err}, err
	}
	return inv.commit(kind, action, w), nil
}

func (inv *Inventory) bulk(ctx context.Context, kind models.EntityKind, action models.Action, op string, items []ports.Payload) ([]ports.Result, error) {
	if err := inv.begin(ctx, kind, op); err != nil {
		return nil, err
	}
	inv.db.mu.Lock()
	defer inv.db.mu.Unlock()

	pending := make([]*pendingWrite, 0, len(items))
	results := make([]ports.Result, len(items))
	var failed []ports.Result
	batchKeys := sets.New[string]()
	for i, item := range items {
		w, err := inv.prepare(kind, action, item, batchKeys)
		if err != nil {
			results[i] = ports.Result{Key: item.Key, Err: err}
			failed = append(failed, results[i])
			continue
		}
		pending = append(pending, w)
	}
	if len(failed) > 0 {
		return results, &ports.PartialBatchError{Kind: kind, Total: len(items), Failed: failed}
	}

	for i, w := range pending {
		results[i] = inv.commit(kind, action, w)
	}
	return results, nil
}

// pendingWrite is a validated write not yet stored
type pendingWrite struct {
	key    string
	record models.Record
	// id is the target of updates and deletes
	id     int64
	fields []string
}

// prepare validates one payload and computes the resulting record. Callers
// hold the write lock.
func (inv *Inventory) prepare(kind models.EntityKind, action models.Action, item ports.Payload, batchKeys sets.Set[string]) (*pendingWrite, error) {
	if reason, ok := inv.rejection(kind, item.Key); ok {
		return nil, &ports.RejectedError{StatusCode: http.StatusBadRequest, Message: reason}
	}

	tbl := inv.db.table(kind)
	if tbl == nil {
		return nil, errors.Errorf("unknown kind %q", kind)
	}

	switch action {
	case models.ActionCreate:
		rec, err := inv.build(kind, nil, item)
		if err != nil {
			return nil, err
		}
		key := rec.Key()
		if _, exists := tbl.lookup(key); exists || batchKeys.Has(key) {
			return nil, &ports.RejectedError{StatusCode: http.StatusBadRequest, Message: string(kind) + " " + key + " already exists"}
		}
		batchKeys.Insert(key)
		return &pendingWrite{key: item.Key, record: rec, fields: item.Fields}, nil

	case models.ActionUpdate:
		existing, ok := tbl.byID[item.ID]
		if !ok {
			return nil, &ports.NotFoundError{Kind: kind, Key: item.Key}
		}
		rec, err := inv.build(kind, existing, item)
		if err != nil {
			return nil, err
		}
		return &pendingWrite{key: item.Key, record: rec, id: item.ID, fields: item.Fields}, nil

	case models.ActionDelete:
		if _, ok := tbl.byID[item.ID]; !ok {
			return nil, &ports.NotFoundError{Kind: kind, Key: item.Key}
		}
		return &pendingWrite{key: item.Key, id: item.ID}, nil
	}
	return nil, errors.Errorf("unsupported action %q", action)
}

// commit stores a prepared write. Callers hold the write lock.
func (inv *Inventory) commit(kind models.EntityKind, action models.Action, w *pendingWrite) ports.Result {
	tbl := inv.db.table(kind)
	switch action {
	case models.ActionCreate:
		w.id = inv.db.allocID()
		tbl.put(withID(w.record, w.id))
	case models.ActionUpdate:
		tbl.put(withID(w.record, w.id))
	case models.ActionDelete:
		inv.cascade(kind, w.id)
		tbl.remove(w.id)
		return ports.Result{Key: w.key, ID: w.id}
	}

	if addr, ok := w.record.(models.IPAddress); ok && hasField(w.fields, fieldPrimary) {
		inv.setPrimary(addr, w.id)
	}
	return ports.Result{Key: w.key, ID: w.id}
}

func (inv *Inventory) setPrimary(addr models.IPAddress, id int64) {
	dev, ok := inv.db.table(models.KindDevice).lookup(models.DeviceKey(addr.Device))
	if !ok {
		return
	}
	devID := dev.RemoteID()
	switch {
	case addr.Primary:
		inv.db.primary[devID] = id
	case inv.db.primary[devID] == id:
		delete(inv.db.primary, devID)
	}
}

// cascade removes or unlinks records that depend on the deleted one
func (inv *Inventory) cascade(kind models.EntityKind, id int64) {
	switch kind {
	case models.KindDevice:
		dev := inv.db.table(models.KindDevice).byID[id].(models.Device)
		key := dev.Key()
		for _, k := range []models.EntityKind{models.KindInterface, models.KindIPAddress, models.KindInventoryItem} {
			tbl := inv.db.table(k)
			for _, rec := range tbl.sorted() {
				if models.DeviceKey(deviceOf(rec)) == key {
					if k == models.KindInterface {
						inv.cascade(k, rec.RemoteID())
					}
					tbl.remove(rec.RemoteID())
				}
			}
		}
		delete(inv.db.primary, id)

	case models.KindInterface:
		ifc := inv.db.table(models.KindInterface).byID[id].(models.Interface)
		end := models.CableEndpoint{Device: ifc.Device, Interface: ifc.Name}.String()
		cables := inv.db.table(models.KindCable)
		for _, rec := range cables.sorted() {
			c := rec.(models.Cable)
			if c.A.String() == end || c.B.String() == end {
				cables.remove(c.ID)
			}
		}
		addrs := inv.db.table(models.KindIPAddress)
		for _, rec := range addrs.sorted() {
			a := rec.(models.IPAddress)
			if models.DeviceKey(a.Device) == models.DeviceKey(ifc.Device) && models.SameInterface(a.Interface, ifc.Name) {
				a.Interface = ""
				addrs.put(a)
			}
		}
		ifaces := inv.db.table(models.KindInterface)
		for _, rec := range ifaces.sorted() {
			m := rec.(models.Interface)
			if m.LAGParent != nil && models.DeviceKey(m.Device) == models.DeviceKey(ifc.Device) && models.SameInterface(*m.LAGParent, ifc.Name) {
				m.LAGParent = nil
				ifaces.put(m)
			}
		}
	}
}

// matches applies a list filter. Callers hold the read lock.
func (inv *Inventory) matches(rec models.Record, f ports.Filter) bool {
	if f.IsEmpty() {
		return true
	}

	switch r := rec.(type) {
	case models.Vlan:
		return f.Site == "" || strings.EqualFold(r.Site, f.Site)
	case models.Cable:
		a, b := r.Devices()
		return matchesDevice(a, f) || matchesDevice(b, f)
	}
	if len(f.Addresses) > 0 {
		addr, ok := rec.(models.IPAddress)
		if !ok || !sets.New(f.Addresses...).Has(hostOf(addr.Address)) {
			return false
		}
	}
	if len(f.MACs) > 0 {
		ifc, ok := rec.(models.Interface)
		if !ok || ifc.MAC == nil || !hasMAC(f.MACs, *ifc.MAC) {
			return false
		}
	}

	devKey := models.DeviceKey(deviceOf(rec))
	if !matchesDevice(devKey, f) {
		return false
	}
	if f.Site == "" && f.Tenant == "" && f.Tag == "" {
		return true
	}

	devRec, ok := inv.db.table(models.KindDevice).lookup(devKey)
	if !ok {
		return false
	}
	dev := devRec.(models.Device)
	if f.Site != "" && !strings.EqualFold(dev.Site, f.Site) {
		return false
	}
	if f.Tenant != "" && (dev.Tenant == nil || *dev.Tenant != f.Tenant) {
		return false
	}
	if f.Tag != "" && !dev.HasTag(f.Tag) {
		return false
	}
	return true
}

func matchesDevice(key string, f ports.Filter) bool {
	if f.Device != "" && key != models.DeviceKey(f.Device) {
		return false
	}
	if len(f.Devices) > 0 {
		for _, d := range f.Devices {
			if models.DeviceKey(d) == key {
				return true
			}
		}
		return false
	}
	return true
}

func hasMAC(macs []string, mac string) bool {
	mac = models.NormalizeMAC(mac)
	if mac == "" {
		return false
	}
	for _, m := range macs {
		if models.NormalizeMAC(m) == mac {
			return true
		}
	}
	return false
}

// hostOf strips the mask from an address
func hostOf(address string) string {
	if p, err := netip.ParsePrefix(address); err == nil {
		return p.Addr().String()
	}
	if a, err := netip.ParseAddr(address); err == nil {
		return a.String()
	}
	return address
}

// present returns the record as the API shows it: devices carry the host of
// their primary address as management IP. Callers hold the read lock.
func (inv *Inventory) present(rec models.Record) models.Record {
	if dev, ok := rec.(models.Device); ok {
		if addrID, found := inv.db.primary[dev.ID]; found {
			if a, exists := inv.db.table(models.KindIPAddress).byID[addrID]; exists {
				dev.ManagementIP = hostOf(a.(models.IPAddress).Address)
			}
		}
		return dev
	}
	addr, ok := rec.(models.IPAddress)
	if !ok {
		return rec
	}
	addr.Primary = false
	if dev, found := inv.db.table(models.KindDevice).lookup(models.DeviceKey(addr.Device)); found {
		addr.Primary = inv.db.primary[dev.RemoteID()] == addr.ID
	}
	return addr
}

func deviceOf(rec models.Record) string {
	switch r := rec.(type) {
	case models.Device:
		return r.Name
	case models.Interface:
		return r.Device
	case models.IPAddress:
		return r.Device
	case models.InventoryItem:
		return r.Device
	}
	return ""
}

func kindOf(rec models.Record) (models.EntityKind, error) {
	switch rec.(type) {
	case models.Device:
		return models.KindDevice, nil
	case models.Interface:
		return models.KindInterface, nil
	case models.IPAddress:
		return models.KindIPAddress, nil
	case models.Vlan:
		return models.KindVLAN, nil
	case models.Cable:
		return models.KindCable, nil
	case models.InventoryItem:
		return models.KindInventoryItem, nil
	}
	return "", errors.Errorf("unsupported record type %T", rec)
}

func withID(rec models.Record, id int64) models.Record {
	switch r := rec.(type) {
	case models.Device:
		r.ID = id
		return r
	case models.Interface:
		r.ID = id
		return r
	case models.IPAddress:
		r.ID = id
		r.Primary = false
		return r
	case models.Vlan:
		r.ID = id
		return r
	case models.Cable:
		r.ID = id
		return r
	case models.InventoryItem:
		r.ID = id
		return r
	}
	return rec
}
