package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/bulk"
	"lock-credential-bridge/internal/credentials"
	"lock-credential-bridge/internal/database"
	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/registry"
	"lock-credential-bridge/internal/types"
)

const maxBodyBytes = 1 << 20

// DeviceRegistry resolves projects and holds the current device snapshot
type DeviceRegistry interface {
	Refresh(ctx context.Context, projectID string) (*registry.Snapshot, error)
	Snapshot() *registry.Snapshot
}

// OperationEngine runs bulk credential operations
type OperationEngine interface {
	Assign(ctx context.Context, devices []types.DeviceRecord, uids []string) (*types.BulkOperationReport, error)
	AssignMaster(ctx context.Context, devices []types.DeviceRecord, uid string) (*types.BulkOperationReport, error)
	Unassign(ctx context.Context, devices []types.DeviceRecord, uids []string) (*types.BulkOperationReport, error)
}

// OperationJournal reads back finished operations
type OperationJournal interface {
	ListOperations(ctx context.Context, filter database.OperationFilter) ([]*database.OperationRecord, error)
	GetOperation(ctx context.Context, id string) (*types.BulkOperationReport, error)
	CredentialHistory(ctx context.Context, uid string, limit int) ([]*database.CredentialOutcome, error)
}

// HealthCheck checks one backing component
type HealthCheck func(ctx context.Context) error

// Dependencies wires the handlers to the rest of the bridge. Journal, Hub,
// HealthChecks and Uptime are optional.
type Dependencies struct {
	Registry       DeviceRegistry
	Engine         OperationEngine
	Journal        OperationJournal
	Hub            *ProgressHub
	DefaultProject string
	HealthChecks   map[string]HealthCheck
	Uptime         func() time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	deps   Dependencies
	logger *logrus.Entry
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Dependencies, logger *logrus.Logger) (*Handlers, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("operation engine is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Handlers{
		deps:   deps,
		logger: logging.NewServiceLogger(logger, "api"),
	}, nil
}

// GetHealth reports component health and the state of the device registry
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string, len(h.deps.HealthChecks)),
	}

	status := http.StatusOK
	for name, check := range h.deps.HealthChecks {
		if err := check(ctx); err != nil {
			h.logger.WithError(err).WithField("component", name).Warn("Health check failed")
			response.Components[name] = "unhealthy: " + err.Error()
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Components[name] = "healthy"
	}

	if snapshot := h.deps.Registry.Snapshot(); snapshot != nil {
		info := newRegistryInfo(snapshot)
		response.Registry = &info
	}
	if h.deps.Hub != nil {
		response.Clients = h.deps.Hub.ClientCount()
	}
	if h.deps.Uptime != nil {
		response.Uptime = h.deps.Uptime().Round(time.Second).String()
	}

	writeJSONResponse(w, response, status)
}

// ResolveDevices rebuilds the device registry for a project. Without a
// projectId path variable the configured default project is used.
func (h *Handlers) ResolveDevices(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]
	if projectID == "" {
		projectID = h.deps.DefaultProject
	}
	if projectID == "" {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "project id is required", nil)
		return
	}

	snapshot, err := h.deps.Registry.Refresh(r.Context(), projectID)
	if err != nil {
		h.logger.WithError(err).WithField("project_id", projectID).Error("Device resolution failed")
		if errors.Is(err, types.ErrResolutionFailed) {
			writeError(w, r, http.StatusBadGateway, ErrCodeResolutionFailed, err.Error(), nil)
			return
		}
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
		return
	}

	writeJSONResponse(w, DevicesResponse{
		RegistryInfo: newRegistryInfo(snapshot),
		Items:        snapshot.Devices(),
	}, http.StatusOK)
}

// ListDevices returns the current snapshot. "writable=true" drops devices
// that cannot receive slot writes.
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.currentSnapshot(w, r)
	if !ok {
		return
	}

	items := snapshot.Devices()
	if r.URL.Query().Get("writable") == "true" {
		writable := items[:0]
		for _, d := range items {
			if d.Writable() {
				writable = append(writable, d)
			}
		}
		items = writable
	}

	writeJSONResponse(w, DevicesResponse{
		RegistryInfo: newRegistryInfo(snapshot),
		Items:        items,
	}, http.StatusOK)
}

// ParseCredentials splits free-form text into valid and rejected tokens
func (h *Handlers) ParseCredentials(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	parsed := credentials.Parse(req.Text)
	writeJSONResponse(w, ParseResponse{
		Valid:   parsed.Valid,
		Invalid: parsed.Invalid,
		Empty:   parsed.Empty(),
	}, http.StatusOK)
}

// AssignCredentials assigns credentials to the selected devices. With
// master set the single credential goes to the reserved master slot.
func (h *Handlers) AssignCredentials(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	devices, uids, ok := h.prepareOperation(w, r, req)
	if !ok {
		return
	}

	var (
		report *types.BulkOperationReport
		err    error
	)
	if req.Master {
		if len(uids) != 1 {
			writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
				"master assignment takes exactly one credential", nil)
			return
		}
		report, err = h.deps.Engine.AssignMaster(r.Context(), devices, uids[0])
	} else {
		report, err = h.deps.Engine.Assign(r.Context(), devices, uids)
	}
	if err != nil {
		h.writeOperationError(w, r, err)
		return
	}

	writeJSONResponse(w, report, http.StatusOK)
}

// UnassignCredentials removes credentials from the selected devices. An
// empty credential set clears every occupied slot.
func (h *Handlers) UnassignCredentials(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Master {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "master applies to assignment only", nil)
		return
	}

	devices, uids, ok := h.prepareOperation(w, r, req)
	if !ok {
		return
	}

	report, err := h.deps.Engine.Unassign(r.Context(), devices, uids)
	if err != nil {
		h.writeOperationError(w, r, err)
		return
	}

	writeJSONResponse(w, report, http.StatusOK)
}

// CredentialHistory lists journaled outcomes of one credential
func (h *Handlers) CredentialHistory(w http.ResponseWriter, r *http.Request) {
	if !h.journalEnabled(w, r) {
		return
	}

	uid := mux.Vars(r)["uid"]
	if !credentials.Valid(uid) {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidCredentials, fmt.Sprintf("invalid credential %q", uid), nil)
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	history, err := h.deps.Journal.CredentialHistory(r.Context(), uid, limit)
	if err != nil {
		logging.LogStorageError(h.logger, err, "journal", "credential_history")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to read credential history", nil)
		return
	}

	writeJSONResponse(w, history, http.StatusOK)
}

// ListOperations pages through journaled operations, newest first
func (h *Handlers) ListOperations(w http.ResponseWriter, r *http.Request) {
	if !h.journalEnabled(w, r) {
		return
	}

	query := r.URL.Query()
	filter := database.OperationFilter{Operation: types.OperationKind(query.Get("operation"))}
	switch filter.Operation {
	case "", types.OperationAssign, types.OperationAssignMaster, types.OperationUnassign:
	default:
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, fmt.Sprintf("unknown operation %q", filter.Operation), nil)
		return
	}

	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "since must be an RFC3339 timestamp", nil)
			return
		}
		filter.Since = t
	}

	var ok bool
	if filter.Limit, ok = queryInt(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, r, "offset"); !ok {
		return
	}

	records, err := h.deps.Journal.ListOperations(r.Context(), filter)
	if err != nil {
		logging.LogStorageError(h.logger, err, "journal", "list_operations")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to list operations", nil)
		return
	}

	writeJSONResponse(w, OperationsResponse{
		Items:  records,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, http.StatusOK)
}

// GetOperation returns the full report of one operation
func (h *Handlers) GetOperation(w http.ResponseWriter, r *http.Request) {
	if !h.journalEnabled(w, r) {
		return
	}

	id := mux.Vars(r)["id"]
	report, err := h.deps.Journal.GetOperation(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("operation %s not found", id), nil)
		return
	}
	if err != nil {
		logging.LogStorageError(h.logger, err, "journal", "get_operation")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to read operation", nil)
		return
	}

	writeJSONResponse(w, report, http.StatusOK)
}

// prepareOperation selects devices from the current snapshot and parses the
// request credentials, writing an error response when either is unusable
func (h *Handlers) prepareOperation(w http.ResponseWriter, r *http.Request, req OperationRequest) ([]types.DeviceRecord, []string, bool) {
	snapshot, ok := h.currentSnapshot(w, r)
	if !ok {
		return nil, nil, false
	}

	devices, err := snapshot.Select(req.DeviceIDs)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeUnknownDevices, err.Error(), nil)
		return nil, nil, false
	}

	text := strings.Join(req.UIDs, "\n")
	if req.Text != "" {
		text += "\n" + req.Text
	}
	parsed := credentials.Parse(text)
	if len(parsed.Invalid) > 0 {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidCredentials,
			fmt.Sprintf("%d invalid credential tokens", len(parsed.Invalid)), parsed.Invalid)
		return nil, nil, false
	}

	return devices, parsed.Valid, true
}

func (h *Handlers) currentSnapshot(w http.ResponseWriter, r *http.Request) (*registry.Snapshot, bool) {
	snapshot := h.deps.Registry.Snapshot()
	if snapshot == nil {
		writeError(w, r, http.StatusConflict, ErrCodeRegistryEmpty, "no project has been resolved yet", nil)
		return nil, false
	}
	return snapshot, true
}

func (h *Handlers) journalEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Journal == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeJournalDisabled, "operation journal is disabled", nil)
		return false
	}
	return true
}

// writeOperationError maps engine errors to HTTP responses
func (h *Handlers) writeOperationError(w http.ResponseWriter, r *http.Request, err error) {
	var precondition *types.PreconditionError
	switch {
	case errors.As(err, &precondition):
		writeError(w, r, http.StatusUnprocessableEntity, ErrCodePreconditionFailed, err.Error(), precondition.Devices)
	case errors.Is(err, bulk.ErrNoDevices), errors.Is(err, bulk.ErrNoCredentials), errors.Is(err, bulk.ErrNoMasterSlot):
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), nil)
	default:
		h.logger.WithError(err).Error("Bulk operation failed")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, fmt.Sprintf("%s must be a non-negative integer", name), nil)
		return 0, false
	}
	return v, true
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string, details interface{}) {
	writeJSONResponse(w, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		Path:      r.URL.Path,
		Method:    r.Method,
		Status:    status,
	}, status)
}
