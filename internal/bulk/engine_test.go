package bulk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/slots"
	"lock-credential-bridge/internal/types"
)

type slotWrite struct {
	GatewayID string
	DeviceID  string
	Slot      int
	Value     string
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []slotWrite
	fail   func(w slotWrite) error
}

func (f *fakeWriter) WriteSlot(ctx context.Context, gatewayID, deviceID string, slot int, value string) error {
	w := slotWrite{GatewayID: gatewayID, DeviceID: deviceID, Slot: slot, Value: value}
	f.mu.Lock()
	f.writes = append(f.writes, w)
	f.mu.Unlock()
	if f.fail != nil {
		return f.fail(w)
	}
	return nil
}

func (f *fakeWriter) writesFor(deviceID string) []slotWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []slotWrite
	for _, w := range f.writes {
		if w.DeviceID == deviceID {
			out = append(out, w)
		}
	}
	return out
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeSource struct {
	mu        sync.Mutex
	snapshots map[string]types.CredentialSnapshot
	errs      map[string]error
	calls     int
}

func (f *fakeSource) FetchCredentialSnapshot(ctx context.Context, spaceID string) (types.CredentialSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[spaceID]; err != nil {
		return nil, err
	}
	return f.snapshots[spaceID], nil
}

type recorderFunc func(ctx context.Context, report *types.BulkOperationReport) error

func (f recorderFunc) Record(ctx context.Context, report *types.BulkOperationReport) error {
	return f(ctx, report)
}

type collectingObserver struct {
	mu        sync.Mutex
	summaries []types.DeviceOperationSummary
}

func (o *collectingObserver) DeviceCompleted(op types.OperationKind, summary types.DeviceOperationSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, summary)
}

func newTestEngine(t *testing.T, writer *fakeWriter, source *fakeSource) *Engine {
	t.Helper()
	if source == nil {
		source = &fakeSource{}
	}
	engine, err := NewEngine(writer, source, DefaultConfig(), logging.Discard())
	require.NoError(t, err)
	return engine
}

func lock(id, gateway string, slotMap map[int]string) types.DeviceRecord {
	return types.DeviceRecord{
		CanonicalID:  id,
		DisplayLabel: "Unit - " + id,
		GatewayID:    gateway,
		SpaceID:      "space-1",
		Scope:        types.ScopeSpace,
		Slots:        slotMap,
	}
}

func slotOf(t *testing.T, r types.OperationResult) int {
	t.Helper()
	require.NotNil(t, r.Slot, "result for %s has no slot", r.UID)
	return *r.Slot
}

func TestNewEngine(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{}

	_, err := NewEngine(nil, source, DefaultConfig(), logging.Discard())
	assert.Error(t, err)

	_, err = NewEngine(writer, nil, DefaultConfig(), logging.Discard())
	assert.Error(t, err)

	_, err = NewEngine(writer, source, DefaultConfig(), nil)
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Layout = slots.Layout{First: 10, Last: 1}
	_, err = NewEngine(writer, source, bad, logging.Discard())
	assert.Error(t, err)
}

func TestAssign_SkipsCredentialAlreadyOnDevice(t *testing.T) {
	writer := &fakeWriter{}
	engine := newTestEngine(t, writer, nil)

	device := lock("L1", "gw-1", map[int]string{7: "11:22:33:44"})
	report, err := engine.Assign(context.Background(), []types.DeviceRecord{device}, []string{"11-22-33-44", "aabbccdd"})
	require.NoError(t, err)

	require.Len(t, report.Devices, 1)
	results := report.Devices[0].Results
	require.Len(t, results, 2)

	assert.Equal(t, types.StatusAlreadyAssigned, results[0].Status)
	assert.Equal(t, 7, slotOf(t, results[0]))
	assert.Equal(t, types.StatusSuccess, results[1].Status)
	assert.Equal(t, 2, slotOf(t, results[1]))

	writes := writer.writesFor("L1")
	require.Len(t, writes, 1)
	assert.Equal(t, slotWrite{GatewayID: "gw-1", DeviceID: "L1", Slot: 2, Value: "AA:BB:CC:DD"}, writes[0])
	assert.True(t, report.Success)
}

func TestAssign_RepeatedDeviceIsProcessedOnce(t *testing.T) {
	writer := &fakeWriter{}
	engine := newTestEngine(t, writer, nil)

	device := lock("D", "gw", nil)
	report, err := engine.Assign(context.Background(), []types.DeviceRecord{device, device}, []string{"AA:BB:CC:DD"})
	require.NoError(t, err)

	require.Len(t, report.Devices, 1)
	assert.Equal(t, 1, report.Counts.Total())
	require.Equal(t, 1, writer.count())
	assert.Equal(t, slotWrite{GatewayID: "gw", DeviceID: "D", Slot: 2, Value: "AA:BB:CC:DD"}, writer.writesFor("D")[0])
}

func TestUnassign_RepeatedDeviceIsProcessedOnce(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{snapshots: map[string]types.CredentialSnapshot{
		"space-1": {"D": {Slots: map[int]string{4: "AA:BB:CC:DD"}}},
	}}
	engine := newTestEngine(t, writer, source)

	device := lock("D", "gw", nil)
	report, err := engine.Unassign(context.Background(), []types.DeviceRecord{device, device}, []string{"AA:BB:CC:DD"})
	require.NoError(t, err)

	require.Len(t, report.Devices, 1)
	assert.Equal(t, 1, writer.count())
	assert.Equal(t, 1, source.calls)
}

func TestAssign_DistinctSlotsWithinBatch(t *testing.T) {
	writer := &fakeWriter{}
	engine := newTestEngine(t, writer, nil)

	device := lock("L1", "gw-1", map[int]string{3: "99:99:99:99"})
	uids := []string{"AA:AA:AA:01", "AA:AA:AA:02", "AA:AA:AA:03"}

	report, err := engine.Assign(context.Background(), []types.DeviceRecord{device}, uids)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, r := range report.Devices[0].Results {
		require.Equal(t, types.StatusSuccess, r.Status)
		slot := slotOf(t, r)
		assert.False(t, seen[slot], "slot %d allocated twice", slot)
		assert.NotEqual(t, 1, slot, "reserved slot used for a regular credential")
		assert.NotEqual(t, 3, slot, "occupied slot reused")
		seen[slot] = true
	}
	assert.Equal(t, []int{2, 4, 5}, []int{
		slotOf(t, report.Devices[0].Results[0]),
		slotOf(t, report.Devices[0].Results[1]),
		slotOf(t, report.Devices[0].Results[2]),
	})
}

func TestAssign_DuplicateInputIsWrittenOnce(t *testing.T) {
	writer := &fakeWriter{}
	engine := newTestEngine(t, writer, nil)

	report, err := engine.Assign(context.Background(),
		[]types.DeviceRecord{lock("L1", "gw-1", nil)},
		[]string{"AA:BB:CC:DD", "aabbccdd", "AA-BB-CC-DD"})
	require.NoError(t, err)

	assert.Equal(t, 1, writer.count())
	assert.Equal(t, 1, report.Counts.Total())
}

func TestAssign_NoCapacityDoesNotAbortDevice(t *testing.T) {
	writer := &fakeWriter{}
	engine := newTestEngine(t, writer, nil)

	device := lock("L1", "gw-1", nil)
	device.SlotCapacity = 3

	report, err := engine.Assign(context.Background(), []types.DeviceRecord{device},
		[]string{"AA:AA:AA:01", "AA:AA:AA:02", "AA:AA:AA:03", "11:11:11:11"})
	require.NoError(t, err)

	results := report.Devices[0].Results
	require.Len(t, results, 4)
	assert.Equal(t, types.StatusSuccess, results[0].Status)
	assert.Equal(t, types.StatusSuccess, results[1].Status)
	assert.Equal(t, types.StatusFailed, results[2].Status)
	assert.Equal(t, types.CodeNoCapacity, results[2].Code)
	assert.Nil(t, results[2].Slot)
	assert.Equal(t, types.StatusFailed, results[3].Status)

	assert.Equal(t, 2, writer.count())
	assert.True(t, report.Devices[0].Success)
	assert.True(t, report.Success)
}

func TestAssign_FailedWriteKeepsSlotClaimed(t *testing.T) {
	writer := &fakeWriter{fail: func(w slotWrite) error {
		if w.Slot == 2 {
			return &types.RemoteError{Op: "write_slot", StatusCode: http.StatusBadGateway, Body: "gateway offline"}
		}
		return nil
	}}
	engine := newTestEngine(t, writer, nil)

	report, err := engine.Assign(context.Background(),
		[]types.DeviceRecord{lock("L1", "gw-1", nil)},
		[]string{"AA:AA:AA:01", "AA:AA:AA:02"})
	require.NoError(t, err)

	results := report.Devices[0].Results
	assert.Equal(t, types.StatusFailed, results[0].Status)
	assert.Equal(t, types.CodeRemoteFailed, results[0].Code)
	assert.Equal(t, "gateway offline", results[0].Message)
	assert.Equal(t, types.StatusSuccess, results[1].Status)
	assert.Equal(t, 3, slotOf(t, results[1]))
}

func TestAssign_PreconditionScenario(t *testing.T) {
	writer := &fakeWriter{}
	engine := newTestEngine(t, writer, nil)

	devices := []types.DeviceRecord{
		lock("L1", "gw-1", nil),
		lock("L2", "", nil),
		lock("L3", "gw-3", nil),
	}
	uids := []string{"AA:BB:CC:DD", "11:22:33:44"}

	report, err := engine.Assign(context.Background(), devices, uids)
	require.Error(t, err)
	assert.Nil(t, report)

	var precondition *types.PreconditionError
	require.True(t, errors.As(err, &precondition))
	assert.Equal(t, []string{"L2"}, precondition.Devices)
	assert.Contains(t, err.Error(), "L2")
	assert.Equal(t, 0, writer.count())

	report, err = engine.Assign(context.Background(), []types.DeviceRecord{devices[0], devices[2]}, uids)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Counts.Total())
	require.Len(t, report.Devices, 2)
	assert.Equal(t, "L1", report.Devices[0].CanonicalID)
	assert.Equal(t, "L3", report.Devices[1].CanonicalID)
	assert.Equal(t, 4, writer.count())
	assert.Equal(t, types.OutcomeSuccess, report.Outcome())
}

func TestAssign_AuthAndTimeoutClassification(t *testing.T) {
	writer := &fakeWriter{fail: func(w slotWrite) error {
		switch w.DeviceID {
		case "L2":
			return &types.RemoteError{Op: "write_slot", StatusCode: http.StatusUnauthorized}
		case "L3":
			return &types.RemoteError{Op: "write_slot", Timeout: true, Err: context.DeadlineExceeded}
		}
		return nil
	}}
	engine := newTestEngine(t, writer, nil)

	devices := []types.DeviceRecord{lock("L1", "gw", nil), lock("L2", "gw", nil), lock("L3", "gw", nil)}
	report, err := engine.Assign(context.Background(), devices, []string{"AA:BB:CC:DD"})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, report.Devices[0].Results[0].Status)
	assert.Equal(t, types.StatusAuthError, report.Devices[1].Results[0].Status)
	assert.Equal(t, types.CodeAuthExpired, report.Devices[1].Results[0].Code)
	assert.Equal(t, types.StatusFailed, report.Devices[2].Results[0].Status)
	assert.Equal(t, types.CodeTimeout, report.Devices[2].Results[0].Code)

	assert.True(t, report.AuthErrorDetected)
	assert.False(t, report.Success)
	assert.True(t, report.Partial)
	assert.Equal(t, types.OutcomePartial, report.Outcome())
	assert.Equal(t, 1, report.Counts[types.StatusSuccess])
	assert.Equal(t, 1, report.Counts[types.StatusAuthError])
	assert.Equal(t, 1, report.Counts[types.StatusFailed])
}

func TestAssign_RejectsEmptyInput(t *testing.T) {
	engine := newTestEngine(t, &fakeWriter{}, nil)

	_, err := engine.Assign(context.Background(), nil, []string{"AA:BB:CC:DD"})
	assert.ErrorIs(t, err, ErrNoDevices)

	_, err = engine.Assign(context.Background(), []types.DeviceRecord{lock("L1", "gw", nil)}, nil)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAssign_BoundedConcurrencyKeepsOrder(t *testing.T) {
	writer := &fakeWriter{fail: func(w slotWrite) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}}
	engine := newTestEngine(t, writer, nil)

	var devices []types.DeviceRecord
	for i := 0; i < 12; i++ {
		devices = append(devices, lock(fmt.Sprintf("L%02d", i), "gw", nil))
	}

	report, err := engine.Assign(context.Background(), devices, []string{"AA:BB:CC:DD"})
	require.NoError(t, err)
	require.Len(t, report.Devices, len(devices))
	for i, summary := range report.Devices {
		assert.Equal(t, devices[i].CanonicalID, summary.CanonicalID)
	}
}

func TestAssign_DoesNotMutateCallerRecords(t *testing.T) {
	engine := newTestEngine(t, &fakeWriter{}, nil)

	device := lock("L1", "gw-1", map[int]string{})
	_, err := engine.Assign(context.Background(), []types.DeviceRecord{device}, []string{"AA:BB:CC:DD"})
	require.NoError(t, err)
	assert.Empty(t, device.Slots)
}

func TestAssignMaster(t *testing.T) {
	writer := &fakeWriter{}
	engine := newTestEngine(t, writer, nil)

	devices := []types.DeviceRecord{
		lock("L1", "gw-1", nil),
		lock("L2", "gw-1", map[int]string{1: "AA:BB:CC:DD"}),
		lock("L3", "gw-1", map[int]string{1: "99:99:99:99"}),
	}
	report, err := engine.AssignMaster(context.Background(), devices, "aa-bb-cc-dd")
	require.NoError(t, err)

	assert.Equal(t, types.OperationAssignMaster, report.Operation)
	assert.Equal(t, types.StatusSuccess, report.Devices[0].Results[0].Status)
	assert.Equal(t, 1, slotOf(t, report.Devices[0].Results[0]))
	assert.Equal(t, types.StatusAlreadyAssigned, report.Devices[1].Results[0].Status)
	assert.Equal(t, types.StatusFailed, report.Devices[2].Results[0].Status)
	assert.Equal(t, types.CodeNoCapacity, report.Devices[2].Results[0].Code)

	assert.Len(t, writer.writesFor("L1"), 1)
	assert.Empty(t, writer.writesFor("L2"))
	assert.Empty(t, writer.writesFor("L3"))
}

func TestUnassign_NothingToUnassign(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{snapshots: map[string]types.CredentialSnapshot{
		"space-1": {"L1": {DeviceID: "L1", GatewayID: "gw-1", Slots: map[int]string{}}},
	}}
	engine := newTestEngine(t, writer, source)

	report, err := engine.Unassign(context.Background(), []types.DeviceRecord{lock("L1", "gw-1", nil)}, nil)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, types.OutcomeSuccess, report.Outcome())
	assert.Equal(t, "nothing to unassign", report.Devices[0].Message)
	assert.Equal(t, 0, report.Counts.Total())
	assert.Equal(t, 0, writer.count())
}

func TestUnassign_AllUsesFreshSnapshot(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{snapshots: map[string]types.CredentialSnapshot{
		"space-1": {"L1": {DeviceID: "L1", Slots: map[int]string{5: "BB:BB:BB:BB", 3: "AA:AA:AA:AA", 9: ""}}},
	}}
	engine := newTestEngine(t, writer, source)

	// The cached slot map is stale and must be ignored.
	device := lock("L1", "gw-1", map[int]string{12: "CC:CC:CC:CC"})
	report, err := engine.Unassign(context.Background(), []types.DeviceRecord{device}, nil)
	require.NoError(t, err)

	writes := writer.writesFor("L1")
	require.Len(t, writes, 2)
	assert.Equal(t, 3, writes[0].Slot)
	assert.Equal(t, "", writes[0].Value)
	assert.Equal(t, 5, writes[1].Slot)
	assert.Equal(t, "", writes[1].Value)

	results := report.Devices[0].Results
	assert.Equal(t, "AA:AA:AA:AA", results[0].UID)
	assert.Equal(t, "BB:BB:BB:BB", results[1].UID)
	assert.Equal(t, 2, report.Counts[types.StatusSuccess])
	assert.True(t, report.Success)
}

func TestUnassign_SpecificCredentials(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{snapshots: map[string]types.CredentialSnapshot{
		"space-1": {
			"L1": {DeviceID: "L1", Slots: map[int]string{4: "11:22:33:44"}},
			"L2": {DeviceID: "L2", Slots: map[int]string{}},
		},
	}}
	engine := newTestEngine(t, writer, source)

	devices := []types.DeviceRecord{lock("L1", "gw-1", nil), lock("L2", "gw-1", nil)}
	report, err := engine.Unassign(context.Background(), devices, []string{"11223344", "DE:AD:BE:EF"})
	require.NoError(t, err)

	l1 := report.Devices[0].Results
	require.Len(t, l1, 2)
	assert.Equal(t, types.StatusSuccess, l1[0].Status)
	assert.Equal(t, "11:22:33:44", l1[0].UID)
	assert.Equal(t, 4, slotOf(t, l1[0]))
	assert.Equal(t, types.StatusNotFound, l1[1].Status)
	assert.Equal(t, "DE:AD:BE:EF", l1[1].UID)
	assert.Nil(t, l1[1].Slot)

	assert.Equal(t, 2, report.Devices[1].Counts[types.StatusNotFound])
	assert.True(t, report.Devices[1].Success)

	assert.Equal(t, []slotWrite{{GatewayID: "gw-1", DeviceID: "L1", Slot: 4, Value: ""}}, writer.writesFor("L1"))
	assert.True(t, report.Success)
	assert.False(t, report.NothingFound)
}

func TestUnassign_NotFoundEverywhereIsStillSuccess(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{snapshots: map[string]types.CredentialSnapshot{}}
	engine := newTestEngine(t, writer, source)

	report, err := engine.Unassign(context.Background(),
		[]types.DeviceRecord{lock("L1", "gw-1", nil), lock("L2", "gw-2", nil)},
		[]string{"DE:AD:BE:EF"})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.True(t, report.NothingFound)
	assert.Equal(t, 2, report.Counts[types.StatusNotFound])
	assert.Equal(t, 0, writer.count())
}

func TestUnassign_SnapshotFailures(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{
		snapshots: map[string]types.CredentialSnapshot{},
		errs: map[string]error{
			"space-broken":  &types.RemoteError{Op: "fetch_credentials", StatusCode: http.StatusServiceUnavailable, Body: "maintenance"},
			"space-expired": &types.RemoteError{Op: "fetch_credentials", StatusCode: http.StatusForbidden},
		},
	}
	engine := newTestEngine(t, writer, source)

	noSpace := lock("L1", "gw-1", map[int]string{2: "AA:BB:CC:DD"})
	noSpace.SpaceID = ""
	broken := lock("L2", "gw-1", nil)
	broken.SpaceID = "space-broken"
	expired := lock("L3", "gw-1", nil)
	expired.SpaceID = "space-expired"

	report, err := engine.Unassign(context.Background(), []types.DeviceRecord{noSpace, broken, expired}, []string{"AA:BB:CC:DD"})
	require.NoError(t, err)

	for _, summary := range report.Devices {
		assert.False(t, summary.Success, summary.CanonicalID)
		assert.NotEmpty(t, summary.Error, summary.CanonicalID)
	}
	assert.Equal(t, types.CodeSnapshotFailed, report.Devices[0].Results[0].Code)
	assert.Equal(t, types.CodeSnapshotFailed, report.Devices[1].Results[0].Code)
	assert.Contains(t, report.Devices[1].Error, "maintenance")
	assert.Equal(t, types.StatusAuthError, report.Devices[2].Results[0].Status)
	assert.True(t, report.AuthErrorDetected)
	assert.Equal(t, types.OutcomeFailure, report.Outcome())
	assert.Equal(t, 0, writer.count())
}

func TestUnassign_PreconditionBeforeAnyCall(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{}
	engine := newTestEngine(t, writer, source)

	_, err := engine.Unassign(context.Background(),
		[]types.DeviceRecord{lock("L1", "gw-1", nil), lock("L2", "", nil)}, nil)

	var precondition *types.PreconditionError
	require.True(t, errors.As(err, &precondition))
	assert.Equal(t, 0, source.calls)
	assert.Equal(t, 0, writer.count())
}

func TestEngine_RecordersAndObservers(t *testing.T) {
	engine := newTestEngine(t, &fakeWriter{}, nil)

	var recorded []*types.BulkOperationReport
	engine.AddRecorder(recorderFunc(func(ctx context.Context, report *types.BulkOperationReport) error {
		recorded = append(recorded, report)
		return nil
	}))
	engine.AddRecorder(recorderFunc(func(ctx context.Context, report *types.BulkOperationReport) error {
		return errors.New("journal unavailable")
	}))
	observer := &collectingObserver{}
	engine.AddObserver(observer)

	devices := []types.DeviceRecord{lock("L1", "gw", nil), lock("L2", "gw", nil)}
	report, err := engine.Assign(context.Background(), devices, []string{"AA:BB:CC:DD"})
	require.NoError(t, err, "recorder failures are not returned")

	require.Len(t, recorded, 1)
	assert.Same(t, report, recorded[0])
	assert.NotEmpty(t, report.ID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Len(t, observer.summaries, 2)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus types.OperationStatus
		wantCode   string
	}{
		{"unauthorized", &types.RemoteError{StatusCode: 401}, types.StatusAuthError, types.CodeAuthExpired},
		{"forbidden", &types.RemoteError{StatusCode: 403}, types.StatusAuthError, types.CodeAuthExpired},
		{"auth signature in body", &types.RemoteError{StatusCode: 400, Body: "Token expired, please log in"}, types.StatusAuthError, types.CodeAuthExpired},
		{"timeout", &types.RemoteError{Timeout: true, Err: context.DeadlineExceeded}, types.StatusFailed, types.CodeTimeout},
		{"timeout with auth body", &types.RemoteError{Timeout: true, Body: "session expired"}, types.StatusAuthError, types.CodeAuthExpired},
		{"server error", &types.RemoteError{StatusCode: 500, Body: "boom"}, types.StatusFailed, types.CodeRemoteFailed},
		{"wrapped remote", fmt.Errorf("write: %w", &types.RemoteError{StatusCode: 401}), types.StatusAuthError, types.CodeAuthExpired},
		{"plain deadline", context.DeadlineExceeded, types.StatusFailed, types.CodeTimeout},
		{"plain auth text", errors.New("unauthorized"), types.StatusAuthError, types.CodeAuthExpired},
		{"plain error", errors.New("device busy"), types.StatusFailed, types.CodeRemoteFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, msg := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			assert.NotEmpty(t, msg)
		})
	}
}
