package syncers

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/cache"
	"netsync/internal/sync/interfaces"
	"netsync/internal/sync/topology"
)

// CableSyncer reconciles physical links for the whole run. Cables are
// derived from neighbor reports of every eligible device at once so a link
// seen from both ends is written once.
type CableSyncer struct {
	logger logr.Logger
}

// NewCableSyncer creates a new cable syncer
func NewCableSyncer(logger logr.Logger) *CableSyncer {
	return &CableSyncer{
		logger: logger.WithName("cables"),
	}
}

// Kind implements interfaces.Reconciler
func (s *CableSyncer) Kind() models.EntityKind { return models.KindCable }

// RunLevel implements interfaces.Reconciler
func (s *CableSyncer) RunLevel() bool { return true }

// FetchRemote lists the cables touching any eligible device, then looks up
// the peers the snapshots cannot resolve: devices by every hostname alias,
// ip addresses by management IP and interfaces by chassis MAC. Each lookup
// only covers the reports the previous ones left unresolved.
func (s *CableSyncer) FetchRemote(ctx context.Context, run *interfaces.RunContext, target interfaces.Target) ([]models.Record, error) {
	if len(target.Snapshots) == 0 {
		return nil, nil
	}

	polled := sets.New[string]()
	for _, snap := range target.Snapshots {
		polled.Insert(snap.DeviceKey())
	}

	records, err := run.Inventory.List(ctx, models.KindCable, ports.DevicesFilter(sets.List(polled)...))
	if err != nil {
		return nil, fmt.Errorf("list cables: %w", err)
	}

	directory := topology.NewDirectoryFromSnapshots(target.Snapshots)
	pending := unresolvedPeers(directory, target.Snapshots)

	aliases := sets.New[string]()
	for _, obs := range pending {
		aliases.Insert(topology.HostAliases(obs.RemoteHostname)...)
	}
	if aliases.Len() > 0 {
		devices, err := run.Inventory.List(ctx, models.KindDevice, ports.DevicesFilter(sets.List(aliases)...))
		if err != nil {
			return nil, fmt.Errorf("list neighbor devices: %w", err)
		}
		for _, rec := range devices {
			if dev, ok := rec.(models.Device); ok {
				directory.AddDevice(dev, nil)
			}
		}
		records = append(records, devices...)
		pending = stillUnresolved(directory, pending)
	}

	addresses := sets.New[string]()
	for _, obs := range pending {
		if ip := topology.CanonicalIP(obs.RemoteManagementIP); ip != "" {
			addresses.Insert(ip)
		}
	}
	if addresses.Len() > 0 {
		addrs, err := run.Inventory.List(ctx, models.KindIPAddress, ports.AddressesFilter(sets.List(addresses)...))
		if err != nil {
			return nil, fmt.Errorf("list neighbor addresses: %w", err)
		}
		for _, rec := range addrs {
			if addr, ok := rec.(models.IPAddress); ok {
				directory.AddManagementIP(addr.Address, addr.Device)
			}
		}
		records = append(records, addrs...)
		pending = stillUnresolved(directory, pending)
	}

	macs := sets.New[string]()
	for _, obs := range pending {
		if mac := models.NormalizeMAC(obs.RemoteChassisMAC); mac != "" {
			macs.Insert(mac)
		}
	}
	if macs.Len() > 0 {
		ifaces, err := run.Inventory.List(ctx, models.KindInterface, ports.MACsFilter(sets.List(macs)...))
		if err != nil {
			return nil, fmt.Errorf("list neighbor interfaces: %w", err)
		}
		records = append(records, ifaces...)
	}
	return records, nil
}

func unresolvedPeers(directory *topology.Directory, snapshots []*models.Snapshot) []models.NeighborObservation {
	var pending []models.NeighborObservation
	for _, snap := range snapshots {
		pending = append(pending, stillUnresolved(directory, snap.Neighbors)...)
	}
	return pending
}

func stillUnresolved(directory *topology.Directory, observations []models.NeighborObservation) []models.NeighborObservation {
	var out []models.NeighborObservation
	for _, obs := range observations {
		if _, _, ok := directory.ResolveDevice(obs); !ok {
			out = append(out, obs)
		}
	}
	return out
}

// Compare implements interfaces.Reconciler
func (s *CableSyncer) Compare(run *interfaces.RunContext, target interfaces.Target, remote []models.Record) (interfaces.Plan, error) {
	var remoteCables []models.Cable
	directory := topology.NewDirectoryFromSnapshots(target.Snapshots)
	for _, r := range remote {
		switch rec := r.(type) {
		case models.Cable:
			remoteCables = append(remoteCables, models.NewCable(rec.A, rec.B))
			remoteCables[len(remoteCables)-1].ID = rec.ID
		case models.Device:
			directory.AddDevice(rec, nil)
		case models.IPAddress:
			directory.AddManagementIP(rec.Address, rec.Device)
		case models.Interface:
			if rec.MAC != nil {
				directory.AddChassisMAC(*rec.MAC, rec.Device)
			}
		default:
			return nil, fmt.Errorf("%s: unexpected record type %T", models.KindCable, r)
		}
	}

	resolver := topology.NewResolver(directory, topology.Options{
		AllowUnresolved: run.Options.AllowUnresolvedNeighbors,
	}, s.logger)
	resolution := resolver.Resolve(target.Snapshots)
	for _, d := range resolution.Dropped {
		s.logger.V(1).Info("Dropped neighbor report", "device", d.Device,
			"port", d.Observation.LocalInterface, "peer", d.Observation.RemoteHostname, "reason", d.Reason)
	}

	scanned := target.Scanned
	if scanned == nil {
		scanned = sets.New[string]()
	}
	diff, err := topology.Diff(resolution.Cables, remoteCables, scanned)
	if err != nil {
		return nil, err
	}
	if len(diff.Protected) > 0 {
		s.logger.V(1).Info("Keeping unobserved cables with an unscanned end", "count", len(diff.Protected))
	}

	p := &plan{kind: models.KindCable}
	addDiff(p, diff.Diff, run.Options, run.Options.Cleanup(models.KindCable))

	s.logger.Info("Resolved topology",
		"observed", len(resolution.Cables),
		"duplicates", resolution.Duplicates,
		"dropped", len(resolution.Dropped),
		"remote", len(remoteCables))
	return p, nil
}

// Apply implements interfaces.Reconciler
func (s *CableSyncer) Apply(ctx context.Context, run *interfaces.RunContext, pl interfaces.Plan) ([]models.Change, error) {
	p, err := asPlan(models.KindCable, pl)
	if err != nil {
		return nil, err
	}

	created, _, err := applyBucket(ctx, run, models.KindCable, models.ActionCreate, p.byAction(models.ActionCreate),
		func(ctx context.Context, it plannedItem) (ports.Payload, error) {
			cable := it.local.(models.Cable)
			a, err := s.endpointID(ctx, run, cable.A)
			if err != nil {
				return ports.Payload{}, err
			}
			b, err := s.endpointID(ctx, run, cable.B)
			if err != nil {
				return ports.Payload{}, err
			}
			return ports.Payload{
				Key:    it.change.Key,
				Record: cable,
				Refs:   ports.Refs{AInterfaceID: a, BInterfaceID: b},
			}, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	deleted, _, err := applyBucket(ctx, run, models.KindCable, models.ActionDelete, p.byAction(models.ActionDelete), deletePayload, nil)
	if err != nil {
		return nil, err
	}

	return append(created, deleted...), nil
}

// endpointID resolves an endpoint to its interface id. Interfaces of peers
// outside the run are loaded once per peer.
func (s *CableSyncer) endpointID(ctx context.Context, run *interfaces.RunContext, end models.CableEndpoint) (int64, error) {
	key := models.InterfaceKey(end.Device, end.Interface)
	id, found, err := run.Cache.Get(ctx, cache.InterfacesOfDevice(end.Device), key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &ports.NotFoundError{Kind: models.KindInterface, Key: key}
	}
	return id, nil
}
