// Package registry reconciles project- and space-scoped device listings into
// one canonical set of lock records.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/types"
)

// DeviceSource lists devices from the device-management service
type DeviceSource interface {
	FetchSpaces(ctx context.Context, projectID string) ([]RawSpace, error)
	FetchProjectDevices(ctx context.Context, projectID string) ([]RawProjectDevice, error)
	FetchSpaceDevices(ctx context.Context, spaceID string) ([]RawSpaceEntry, error)
}

// CredentialSource returns the authoritative slot contents of a space
type CredentialSource interface {
	FetchCredentialSnapshot(ctx context.Context, spaceID string) (types.CredentialSnapshot, error)
}

// Resolver builds device snapshots
type Resolver struct {
	devices     DeviceSource
	credentials CredentialSource
	concurrency int
	logger      *logrus.Entry
}

// NewResolver creates a resolver fetching at most concurrency spaces at once
func NewResolver(devices DeviceSource, credentials CredentialSource, concurrency int, logger *logrus.Logger) (*Resolver, error) {
	if devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Resolver{
		devices:     devices,
		credentials: credentials,
		concurrency: concurrency,
		logger:      logging.NewServiceLogger(logger, "resolver"),
	}, nil
}

type spaceResult struct {
	space   RawSpace
	entries []RawSpaceEntry
	err     error
}

// Resolve fetches both listings for projectID and returns the merged snapshot.
// Every error wraps types.ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, projectID string) (*Snapshot, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", types.ErrResolutionFailed)
	}

	log := r.logger.WithField("project_id", projectID)
	var stats Stats

	projectDevices, err := r.devices.FetchProjectDevices(ctx, projectID)
	if err != nil {
		logging.LogRemoteError(log, err, "fetch_project_devices", "", "")
		return nil, fmt.Errorf("%w: project device listing: %v", types.ErrResolutionFailed, err)
	}

	spaces, err := r.devices.FetchSpaces(ctx, projectID)
	if err != nil {
		logging.LogRemoteError(log, err, "fetch_spaces", "", "")
		return nil, fmt.Errorf("%w: space listing: %v", types.ErrResolutionFailed, err)
	}
	stats.Spaces = len(spaces)

	results := r.fetchSpaces(ctx, spaces)

	var spaceErrs error
	var spaceRecords []types.DeviceRecord
	for _, res := range results {
		if res.err != nil {
			stats.SpacesFailed++
			spaceErrs = errors.Join(spaceErrs, fmt.Errorf("space %s: %w", res.space.ID, res.err))
			logging.LogRemoteError(log.WithField("space_id", res.space.ID), res.err, "fetch_space_devices", "", "")
			continue
		}
		spaceRecords = append(spaceRecords, r.normalizeSpace(projectID, res.space, res.entries)...)
	}
	if len(spaces) > 0 && stats.SpacesFailed == len(spaces) {
		return nil, fmt.Errorf("%w: no space could be listed: %v", types.ErrResolutionFailed, spaceErrs)
	}

	projectRecords := r.normalizeProject(projectID, projectDevices)
	stats.SpaceRecords = len(spaceRecords)
	stats.ProjectRecords = len(projectRecords)

	merged := Merge(spaceRecords, projectRecords)
	stats.Backfilled = r.backfillGateways(ctx, merged)

	for _, d := range merged {
		if !d.Writable() {
			stats.NotWritable++
			log.WithFields(logrus.Fields{
				"device_id": d.CanonicalID,
				"space_id":  d.SpaceID,
			}).Warn("Lock has no gateway after backfill, marking not writable")
		}
	}

	snapshot := NewSnapshot(projectID, merged, stats)
	log.WithFields(logrus.Fields{
		"spaces":          stats.Spaces,
		"spaces_failed":   stats.SpacesFailed,
		"space_records":   stats.SpaceRecords,
		"project_records": stats.ProjectRecords,
		"devices":         snapshot.Len(),
		"backfilled":      stats.Backfilled,
		"not_writable":    stats.NotWritable,
	}).Info("Device registry resolved")

	return snapshot, nil
}

// fetchSpaces lists every space with bounded concurrency, keeping input order
func (r *Resolver) fetchSpaces(ctx context.Context, spaces []RawSpace) []spaceResult {
	results := make([]spaceResult, len(spaces))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, space := range spaces {
		i, space := i, space
		g.Go(func() error {
			entries, err := r.devices.FetchSpaceDevices(ctx, space.ID)
			results[i] = spaceResult{space: space, entries: entries, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// normalizeSpace flattens containers and turns lock entries into Space-scoped records
func (r *Resolver) normalizeSpace(projectID string, space RawSpace, entries []RawSpaceEntry) []types.DeviceRecord {
	spaceAttrs := space.Attributes.toTypes()
	var records []types.DeviceRecord

	accept := func(raw RawDevice) {
		record, ok := r.normalize(raw)
		if !ok {
			return
		}
		record.Scope = types.ScopeSpace
		record.ProjectID = projectID
		record.SpaceID = space.ID
		record.SpaceName = space.Name
		if spaceAttrs.Street != "" {
			record.Attributes.Street = spaceAttrs.Street
		}
		if spaceAttrs.ApartmentType != "" {
			record.Attributes.ApartmentType = spaceAttrs.ApartmentType
		}
		record.DisplayLabel = displayLabel(record.SpaceName, raw.Room, raw.Name, record.CanonicalID)
		records = append(records, record)
	}

	for _, entry := range entries {
		switch {
		case entry.Container != nil:
			c := entry.Container
			shared := c.Attributes.toTypes()
			for _, nested := range c.Devices {
				raw := nested.RawDevice
				if raw.GatewayID == "" {
					raw.GatewayID = c.UUID
				}
				if c.AssetID != "" && c.AssetID != space.ID && raw.AssetID == "" {
					raw.AssetID = c.AssetID
				}
				attrs := raw.Attributes.toTypes().FillMissing(shared)
				raw.Attributes = &RawAttributes{Street: attrs.Street, ApartmentType: attrs.ApartmentType}
				accept(raw)
			}
		case entry.Device != nil:
			accept(entry.Device.RawDevice)
		}
	}

	return records
}

// normalizeProject flattens sub-devices and turns lock entries into Project-scoped records
func (r *Resolver) normalizeProject(projectID string, devices []RawProjectDevice) []types.DeviceRecord {
	var records []types.DeviceRecord

	accept := func(raw RawDevice, spaceID, spaceName string) {
		record, ok := r.normalize(raw)
		if !ok {
			return
		}
		record.Scope = types.ScopeProject
		record.ProjectID = projectID
		record.SpaceID = spaceID
		record.SpaceName = spaceName
		record.DisplayLabel = displayLabel(spaceName, raw.Room, raw.Name, record.CanonicalID)
		records = append(records, record)
	}

	for _, pd := range devices {
		accept(pd.RawDevice, pd.SpaceID, pd.SpaceName)
		for _, sub := range pd.SubDevices {
			if sub.GatewayID == "" {
				sub.GatewayID = pd.GatewayID
			}
			accept(sub, pd.SpaceID, pd.SpaceName)
		}
	}

	return records
}

// normalize converts the fields shared by all listings; scope is set by the caller
func (r *Resolver) normalize(raw RawDevice) (types.DeviceRecord, bool) {
	class := ClassifyLock(raw)
	if class == "" {
		return types.DeviceRecord{}, false
	}

	id := raw.HardwareID()
	if id == "" {
		r.logger.WithField("name", raw.Name).Warn("Skipping lock without hardware identifier")
		return types.DeviceRecord{}, false
	}

	slots, skipped := ParseSlotMap(raw.Slots)
	if len(skipped) > 0 {
		r.logger.WithFields(logrus.Fields{
			"device_id": id,
			"keys":      skipped,
		}).Debug("Ignoring non-numeric slot keys")
	}

	return types.DeviceRecord{
		CanonicalID:    id,
		GatewayID:      strings.TrimSpace(raw.GatewayID),
		AssetID:        strings.TrimSpace(raw.AssetID),
		Attributes:     raw.Attributes.toTypes(),
		Classification: class,
		SlotCapacity:   raw.SlotCount,
		Slots:          slots,
	}, true
}

// Merge keeps one record per canonical id. Space records come first and win;
// project records only fill ids the spaces did not produce.
func Merge(spaceRecords, projectRecords []types.DeviceRecord) []types.DeviceRecord {
	merged := make([]types.DeviceRecord, 0, len(spaceRecords)+len(projectRecords))
	seen := make(map[string]struct{}, len(spaceRecords)+len(projectRecords))

	for _, group := range [][]types.DeviceRecord{spaceRecords, projectRecords} {
		for _, d := range group {
			if _, ok := seen[d.CanonicalID]; ok {
				continue
			}
			seen[d.CanonicalID] = struct{}{}
			merged = append(merged, d)
		}
	}
	return merged
}

// backfillGateways fills missing gateway ids from each space's credential
// snapshot, fetched once per space. Empty slot maps are filled on the way.
func (r *Resolver) backfillGateways(ctx context.Context, records []types.DeviceRecord) int {
	bySpace := make(map[string][]int)
	var order []string
	for i, d := range records {
		if d.GatewayID != "" || d.SpaceID == "" {
			continue
		}
		if _, ok := bySpace[d.SpaceID]; !ok {
			order = append(order, d.SpaceID)
		}
		bySpace[d.SpaceID] = append(bySpace[d.SpaceID], i)
	}

	backfilled := 0
	for _, spaceID := range order {
		snapshot, err := r.credentials.FetchCredentialSnapshot(ctx, spaceID)
		if err != nil {
			logging.LogRemoteError(r.logger.WithField("space_id", spaceID), err, "gateway_backfill", "", "")
			continue
		}

		for _, i := range bySpace[spaceID] {
			entry, ok := snapshot[records[i].CanonicalID]
			if !ok || entry.GatewayID == "" {
				continue
			}
			records[i].GatewayID = entry.GatewayID
			if len(records[i].Slots) == 0 && len(entry.Slots) > 0 {
				records[i].Slots = copySlots(entry.Slots)
			}
			backfilled++
		}
	}
	return backfilled
}

func displayLabel(spaceName, room, name, fallback string) string {
	var parts []string
	for _, p := range []string{spaceName, room, name} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " - ")
	}
	return fallback
}

func copySlots(src map[int]string) map[int]string {
	dst := make(map[int]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
