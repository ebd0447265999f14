// Package bulk issues slot writes for many devices and credentials at once and
// folds the per-credential outcomes into a single report.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"lock-credential-bridge/internal/credentials"
	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/slots"
	"lock-credential-bridge/internal/types"
)

var (
	// ErrNoDevices is returned when an operation selects no device
	ErrNoDevices = errors.New("no devices selected")
	// ErrNoCredentials is returned when an assignment carries no credential
	ErrNoCredentials = errors.New("no credentials to assign")
	// ErrNoMasterSlot is returned by AssignMaster when the layout reserves no slot
	ErrNoMasterSlot = errors.New("slot layout has no reserved master slot")
)

// SlotWriter writes one slot on one lock; an empty value clears the slot
type SlotWriter interface {
	WriteSlot(ctx context.Context, gatewayID, deviceID string, slot int, value string) error
}

// CredentialSource returns the authoritative slot contents of a space
type CredentialSource interface {
	FetchCredentialSnapshot(ctx context.Context, spaceID string) (types.CredentialSnapshot, error)
}

// Recorder receives every finished report
type Recorder interface {
	Record(ctx context.Context, report *types.BulkOperationReport) error
}

// Observer is notified as each device finishes. Calls arrive from worker goroutines.
type Observer interface {
	DeviceCompleted(op types.OperationKind, summary types.DeviceOperationSummary)
}

// Config controls the engine's scheduling
type Config struct {
	Layout       slots.Layout
	Concurrency  int
	BatchTimeout time.Duration
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Layout:       slots.DefaultLayout(),
		Concurrency:  5,
		BatchTimeout: 2 * time.Minute,
	}
}

// Engine runs bulk assign and unassign operations
type Engine struct {
	writer      SlotWriter
	credentials CredentialSource
	config      Config
	logger      *logrus.Entry
	recorders   []Recorder
	observers   []Observer
}

// NewEngine creates an engine. Recorders and observers must be added before
// the first operation runs.
func NewEngine(writer SlotWriter, source CredentialSource, config Config, logger *logrus.Logger) (*Engine, error) {
	if writer == nil {
		return nil, fmt.Errorf("slot writer is required")
	}
	if source == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := config.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slot layout: %w", err)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	return &Engine{
		writer:      writer,
		credentials: source,
		config:      config,
		logger:      logging.NewServiceLogger(logger, "bulk"),
	}, nil
}

// AddRecorder registers a recorder for finished reports
func (e *Engine) AddRecorder(r Recorder) {
	e.recorders = append(e.recorders, r)
}

// AddObserver registers a per-device progress observer
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Assign places every uid on every device, skipping credentials a device
// already holds.
func (e *Engine) Assign(ctx context.Context, devices []types.DeviceRecord, uids []string) (*types.BulkOperationReport, error) {
	uids = credentials.Dedupe(uids)
	if len(uids) == 0 {
		return nil, ErrNoCredentials
	}
	return e.run(ctx, types.OperationAssign, devices, func(ctx context.Context, d types.DeviceRecord) types.DeviceOperationSummary {
		return e.assignDevice(ctx, d, uids, slots.Regular)
	})
}

// AssignMaster places uid in the master slot range of every device
func (e *Engine) AssignMaster(ctx context.Context, devices []types.DeviceRecord, uid string) (*types.BulkOperationReport, error) {
	uids := credentials.Dedupe([]string{uid})
	if len(uids) == 0 {
		return nil, ErrNoCredentials
	}
	if _, ok := e.config.Layout.MasterSlot(); !ok {
		return nil, ErrNoMasterSlot
	}
	return e.run(ctx, types.OperationAssignMaster, devices, func(ctx context.Context, d types.DeviceRecord) types.DeviceOperationSummary {
		return e.assignDevice(ctx, d, uids, slots.Master)
	})
}

// Unassign clears uids from every device. An empty uids clears every occupied slot.
func (e *Engine) Unassign(ctx context.Context, devices []types.DeviceRecord, uids []string) (*types.BulkOperationReport, error) {
	uids = credentials.Dedupe(uids)
	return e.run(ctx, types.OperationUnassign, devices, func(ctx context.Context, d types.DeviceRecord) types.DeviceOperationSummary {
		return e.unassignDevice(ctx, d, uids)
	})
}

type deviceTask func(ctx context.Context, device types.DeviceRecord) types.DeviceOperationSummary

// run validates the selection, fans devices out to the worker pool and
// assembles the report once every worker returned
func (e *Engine) run(ctx context.Context, op types.OperationKind, devices []types.DeviceRecord, task deviceTask) (*types.BulkOperationReport, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	devices = uniqueDevices(devices)
	if err := checkPreconditions(devices); err != nil {
		e.logger.WithField("operation", op).WithError(err).Warn("Rejecting bulk operation")
		return nil, err
	}

	report := &types.BulkOperationReport{
		ID:        uuid.New().String(),
		Operation: op,
		StartedAt: time.Now().UTC(),
	}
	log := e.logger.WithFields(logrus.Fields{
		"operation":    op,
		"operation_id": report.ID,
		"devices":      len(devices),
	})
	log.Info("Starting bulk operation")

	batchCtx := ctx
	if e.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, e.config.BatchTimeout)
		defer cancel()
	}

	summaries := make([]types.DeviceOperationSummary, len(devices))

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for i, device := range devices {
		i, device := i, device.Clone()
		g.Go(func() error {
			summaries[i] = task(batchCtx, device)
			e.notify(op, summaries[i])
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	aggregate(report, summaries)

	log.WithFields(logrus.Fields{
		"outcome":     report.Outcome(),
		"results":     report.Counts.Total(),
		"auth_errors": report.Counts[types.StatusAuthError],
		"duration":    report.FinishedAt.Sub(report.StartedAt),
	}).Info("Bulk operation finished")

	e.record(ctx, report)
	return report, nil
}

// uniqueDevices keeps the first record of each canonical id so one lock never
// gets two concurrent tasks. Records without an id are left for
// checkPreconditions to reject.
func uniqueDevices(devices []types.DeviceRecord) []types.DeviceRecord {
	out := make([]types.DeviceRecord, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if d.CanonicalID != "" {
			if _, dup := seen[d.CanonicalID]; dup {
				continue
			}
			seen[d.CanonicalID] = struct{}{}
		}
		out = append(out, d)
	}
	return out
}

// checkPreconditions rejects the whole batch if any device cannot be written to
func checkPreconditions(devices []types.DeviceRecord) error {
	var offending []string
	for _, d := range devices {
		if !d.Writable() {
			offending = append(offending, d.Name())
		}
	}
	if len(offending) > 0 {
		return &types.PreconditionError{Devices: offending}
	}
	return nil
}

func (e *Engine) assignDevice(ctx context.Context, device types.DeviceRecord, uids []string, kind slots.Kind) types.DeviceOperationSummary {
	summary := newSummary(device)
	log := logging.NewDeviceLogger(e.logger, device.CanonicalID, device.GatewayID)
	if device.Slots == nil {
		device.Slots = make(map[int]string)
	}

	claimed := make(map[int]struct{})
	for _, uid := range uids {
		if slot, ok := slots.Locate(device, uid); ok {
			summary.Record(result(uid, types.StatusAlreadyAssigned, &slot, "", fmt.Sprintf("already in slot %d", slot)))
			continue
		}

		slot, err := e.config.Layout.NextAllocation(device, kind, claimed)
		if err != nil {
			summary.Record(result(uid, types.StatusFailed, nil, types.CodeNoCapacity, fmt.Sprintf("no free %s slot", kind)))
			continue
		}
		// A slot stays claimed even if the write fails, its contents are unknown.
		claimed[slot] = struct{}{}

		value := credentials.Normalize(uid)
		if err := e.writer.WriteSlot(ctx, device.GatewayID, device.CanonicalID, slot, value); err != nil {
			logging.LogRemoteError(log.WithField("slot", slot), err, "write_slot", device.CanonicalID, device.GatewayID)
			status, code, msg := Classify(err)
			summary.Record(result(uid, status, &slot, code, msg))
			continue
		}

		device.Slots[slot] = value
		summary.Record(result(uid, types.StatusSuccess, &slot, "", fmt.Sprintf("assigned to slot %d", slot)))
	}

	summary.Success = summary.Counts[types.StatusSuccess]+summary.Counts[types.StatusAlreadyAssigned] > 0
	return summary
}

func (e *Engine) unassignDevice(ctx context.Context, device types.DeviceRecord, uids []string) types.DeviceOperationSummary {
	summary := newSummary(device)
	log := logging.NewDeviceLogger(e.logger, device.CanonicalID, device.GatewayID)

	view, err := e.freshView(ctx, device)
	if err != nil {
		logging.LogRemoteError(log, err, "fetch_credentials", device.CanonicalID, device.GatewayID)
		status, code, msg := Classify(err)
		if status == types.StatusFailed {
			code = types.CodeSnapshotFailed
		}
		summary.Error = "could not read current slot contents: " + msg
		summary.AuthError = status == types.StatusAuthError
		for _, uid := range uids {
			summary.Record(result(uid, status, nil, code, msg))
		}
		return summary
	}

	if len(uids) == 0 {
		occupied := view.OccupiedSlots()
		if len(occupied) == 0 {
			summary.Success = true
			summary.Message = "nothing to unassign"
			return summary
		}
		for _, slot := range occupied {
			summary.Record(e.clearSlot(ctx, log, view, slot, view.Slots[slot]))
		}
	} else {
		for _, uid := range uids {
			slot, ok := slots.Locate(view, uid)
			if !ok {
				summary.Record(result(uid, types.StatusNotFound, nil, "", "credential not present on device"))
				continue
			}
			summary.Record(e.clearSlot(ctx, log, view, slot, uid))
		}
	}

	summary.Success = summary.Counts[types.StatusSuccess]+summary.Counts[types.StatusNotFound] > 0
	return summary
}

// clearSlot empties one slot and drops it from the view on success
func (e *Engine) clearSlot(ctx context.Context, log *logrus.Entry, view types.DeviceRecord, slot int, uid string) types.OperationResult {
	if err := e.writer.WriteSlot(ctx, view.GatewayID, view.CanonicalID, slot, ""); err != nil {
		logging.LogRemoteError(log.WithField("slot", slot), err, "clear_slot", view.CanonicalID, view.GatewayID)
		status, code, msg := Classify(err)
		return result(uid, status, &slot, code, msg)
	}
	delete(view.Slots, slot)
	return result(uid, types.StatusSuccess, &slot, "", fmt.Sprintf("cleared slot %d", slot))
}

// freshView re-reads the device's slots from its space snapshot. Cached
// slot data is never used for clears.
func (e *Engine) freshView(ctx context.Context, device types.DeviceRecord) (types.DeviceRecord, error) {
	if device.SpaceID == "" {
		return types.DeviceRecord{}, fmt.Errorf("device %s has no space to read credentials from", device.CanonicalID)
	}

	snapshot, err := e.credentials.FetchCredentialSnapshot(ctx, device.SpaceID)
	if err != nil {
		return types.DeviceRecord{}, err
	}

	view := device.Clone()
	view.Slots = make(map[int]string)
	if entry, ok := snapshot[device.CanonicalID]; ok {
		for slot, uid := range entry.Slots {
			view.Slots[slot] = uid
		}
	}
	return view, nil
}

func (e *Engine) notify(op types.OperationKind, summary types.DeviceOperationSummary) {
	for _, o := range e.observers {
		o.DeviceCompleted(op, summary)
	}
}

func (e *Engine) record(ctx context.Context, report *types.BulkOperationReport) {
	for _, r := range e.recorders {
		if err := r.Record(ctx, report); err != nil {
			logging.LogStorageError(e.logger.WithField("operation_id", report.ID), err, "recorder", "record_report")
		}
	}
}

func newSummary(device types.DeviceRecord) types.DeviceOperationSummary {
	label := device.DisplayLabel
	if label == "" {
		label = device.CanonicalID
	}
	return types.DeviceOperationSummary{
		CanonicalID:  device.CanonicalID,
		DisplayLabel: label,
		GatewayID:    device.GatewayID,
		Counts:       make(types.StatusCounts),
		Results:      []types.OperationResult{},
	}
}

func result(uid string, status types.OperationStatus, slot *int, code, message string) types.OperationResult {
	return types.OperationResult{
		UID:     credentials.Normalize(uid),
		Status:  status,
		Slot:    slot,
		Code:    code,
		Message: message,
	}
}

// aggregate folds device summaries into the report totals
func aggregate(report *types.BulkOperationReport, summaries []types.DeviceOperationSummary) {
	report.Devices = summaries
	report.Counts = make(types.StatusCounts)

	succeeded := 0
	for _, s := range summaries {
		report.Counts.Add(s.Counts)
		if s.Success {
			succeeded++
		}
		if s.AuthError {
			report.AuthErrorDetected = true
		}
	}

	report.Success = succeeded == len(summaries)
	report.Partial = succeeded > 0 && !report.Success

	total := report.Counts.Total()
	report.NothingFound = total > 0 && report.Counts[types.StatusNotFound] == total
}
