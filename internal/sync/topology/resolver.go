package topology

import (
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"netsync/internal/domain/models"
	"netsync/internal/sync/compare"
)

// Drop reasons
const (
	ReasonLAGInterface      = "local interface is a link aggregate"
	ReasonUnresolvedDevice  = "remote device unresolved"
	ReasonUnknownInterface  = "remote interface not found on resolved device"
	ReasonMissingRemotePort = "remote port not reported"
)

// Options tunes the resolver
type Options struct {
	// AllowUnresolved keeps observations whose peer is not in the directory,
	// naming the peer by its reported hostname
	AllowUnresolved bool
}

// DroppedObservation is a neighbor report that produced no cable
type DroppedObservation struct {
	Device      string
	Observation models.NeighborObservation
	Reason      string
}

// Resolution is the deduplicated set of observed cables
type Resolution struct {
	Cables     []models.Cable
	Duplicates int
	Dropped    []DroppedObservation
}

// Resolver turns per-device neighbor reports into undirected cables
type Resolver struct {
	directory *Directory
	options   Options
	logger    logr.Logger
}

// NewResolver creates a resolver over directory
func NewResolver(directory *Directory, options Options, logger logr.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		options:   options,
		logger:    logger.WithName("topology"),
	}
}

// Resolve builds one cable per physical link. A link reported from both ends
// is counted once, regardless of which report comes first.
func (r *Resolver) Resolve(snapshots []*models.Snapshot) Resolution {
	var res Resolution
	seen := sets.New[string]()

	for _, snap := range snapshots {
		local := snap.DeviceKey()
		lags := lagInterfaces(snap)

		for _, obs := range snap.Neighbors {
			localPort := models.CanonicalInterfaceName(obs.LocalInterface)
			if lags.Has(localPort) || models.IsLAGName(localPort) {
				res.Dropped = append(res.Dropped, DroppedObservation{Device: local, Observation: obs, Reason: ReasonLAGInterface})
				continue
			}

			peer, strategy, ok := r.directory.ResolveDevice(obs)
			if !ok {
				if !r.options.AllowUnresolved || len(HostAliases(obs.RemoteHostname)) == 0 {
					res.Dropped = append(res.Dropped, DroppedObservation{Device: local, Observation: obs, Reason: ReasonUnresolvedDevice})
					continue
				}
				peer, strategy = HostAliases(obs.RemoteHostname)[0], "reported"
			}

			if obs.RemotePort == "" {
				res.Dropped = append(res.Dropped, DroppedObservation{Device: local, Observation: obs, Reason: ReasonMissingRemotePort})
				continue
			}
			peerPort, ok := r.directory.ResolveInterface(peer, obs.RemotePort)
			if !ok {
				res.Dropped = append(res.Dropped, DroppedObservation{Device: local, Observation: obs, Reason: ReasonUnknownInterface})
				continue
			}

			cable := models.NewCable(
				models.CableEndpoint{Device: local, Interface: localPort},
				models.CableEndpoint{Device: peer, Interface: peerPort},
			)
			key := cable.Key()
			if seen.Has(key) {
				res.Duplicates++
				continue
			}
			seen.Insert(key)
			res.Cables = append(res.Cables, cable)

			r.logger.V(1).Info("Resolved neighbor", "device", local, "port", localPort,
				"peer", peer, "peerPort", peerPort, "strategy", strategy)
		}
	}
	return res
}

// CableDiff is a cable diff after the cleanup guard
type CableDiff struct {
	*compare.Diff[models.Cable]
	// Protected are remote cables not observed this run whose other end was
	// not scanned; they are never deleted
	Protected []models.Cable
}

// Diff compares observed cables with remote ones. A remote cable missing
// from the observation is a delete candidate only when both of its devices
// were scanned in this run.
func Diff(observed, remote []models.Cable, scanned sets.Set[string]) (*CableDiff, error) {
	diff, err := compare.Compare(models.KindCable, observed, remote, models.Cable.Key, nil)
	if err != nil {
		return nil, err
	}

	result := &CableDiff{Diff: diff}
	candidates := diff.DeleteCandidates
	diff.DeleteCandidates = nil
	for _, c := range candidates {
		a, b := c.Devices()
		if scanned.Has(a) && scanned.Has(b) {
			diff.DeleteCandidates = append(diff.DeleteCandidates, c)
		} else {
			result.Protected = append(result.Protected, c)
		}
	}
	return result, nil
}

func lagInterfaces(snap *models.Snapshot) sets.Set[string] {
	lags := sets.New[string]()
	for _, ifc := range snap.Interfaces {
		if ifc.IsLAG() {
			lags.Insert(models.CanonicalInterfaceName(ifc.Name))
		}
	}
	return lags
}
