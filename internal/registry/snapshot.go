package registry

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"lock-credential-bridge/internal/types"
)

// Stats summarizes one resolution cycle
type Stats struct {
	Spaces         int `json:"spaces"`
	SpacesFailed   int `json:"spacesFailed"`
	SpaceRecords   int `json:"spaceRecords"`
	ProjectRecords int `json:"projectRecords"`
	Devices        int `json:"devices"`
	Backfilled     int `json:"backfilled"`
	NotWritable    int `json:"notWritable"`
}

// Snapshot is the immutable device registry produced by one resolution cycle.
// Every accessor hands out copies.
type Snapshot struct {
	projectID  string
	resolvedAt time.Time
	devices    []types.DeviceRecord
	index      map[string]int
	stats      Stats
}

// NewSnapshot builds a snapshot from already-deduplicated records
func NewSnapshot(projectID string, devices []types.DeviceRecord, stats Stats) *Snapshot {
	s := &Snapshot{
		projectID:  projectID,
		resolvedAt: time.Now().UTC(),
		devices:    make([]types.DeviceRecord, 0, len(devices)),
		index:      make(map[string]int, len(devices)),
		stats:      stats,
	}
	for _, d := range devices {
		if _, dup := s.index[d.CanonicalID]; dup {
			continue
		}
		s.index[d.CanonicalID] = len(s.devices)
		s.devices = append(s.devices, d.Clone())
	}
	s.stats.Devices = len(s.devices)
	return s
}

func (s *Snapshot) ProjectID() string     { return s.projectID }
func (s *Snapshot) ResolvedAt() time.Time { return s.resolvedAt }
func (s *Snapshot) Stats() Stats          { return s.stats }
func (s *Snapshot) Len() int              { return len(s.devices) }

// Devices returns copies of all records in discovery order
func (s *Snapshot) Devices() []types.DeviceRecord {
	out := make([]types.DeviceRecord, len(s.devices))
	for i, d := range s.devices {
		out[i] = d.Clone()
	}
	return out
}

// Lookup returns a copy of the record with the given canonical id
func (s *Snapshot) Lookup(canonicalID string) (types.DeviceRecord, bool) {
	i, ok := s.index[canonicalID]
	if !ok {
		return types.DeviceRecord{}, false
	}
	return s.devices[i].Clone(), true
}

// Select returns copies of the requested records in the order asked for.
// A repeated id selects its device once, at its first position.
func (s *Snapshot) Select(canonicalIDs []string) ([]types.DeviceRecord, error) {
	out := make([]types.DeviceRecord, 0, len(canonicalIDs))
	seen := make(map[string]struct{}, len(canonicalIDs))
	var unknown []string
	for _, id := range canonicalIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		d, ok := s.Lookup(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		out = append(out, d)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown devices: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Registry holds the current snapshot and swaps it atomically on refresh.
// Readers keep whichever snapshot they captured.
type Registry struct {
	resolver *Resolver
	current  atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry backed by resolver
func NewRegistry(resolver *Resolver) *Registry {
	return &Registry{resolver: resolver}
}

// Refresh resolves projectID and publishes the new snapshot on success.
// A failed refresh leaves the previous snapshot in place.
func (r *Registry) Refresh(ctx context.Context, projectID string) (*Snapshot, error) {
	snapshot, err := r.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	r.current.Store(snapshot)
	return snapshot, nil
}

// Snapshot returns the current snapshot, or nil before the first refresh
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}
