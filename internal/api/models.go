package api

import (
	"time"

	"lock-credential-bridge/internal/registry"
	"lock-credential-bridge/internal/types"
)

// ErrorCode represents specific API error codes
type ErrorCode string

const (
	ErrCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUnknownDevices     ErrorCode = "UNKNOWN_DEVICES"
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrCodeResolutionFailed   ErrorCode = "RESOLUTION_FAILED"
	ErrCodeRegistryEmpty      ErrorCode = "REGISTRY_EMPTY"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeJournalDisabled    ErrorCode = "JOURNAL_DISABLED"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string      `json:"error"`
	Code      ErrorCode   `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Path      string      `json:"path,omitempty"`
	Method    string      `json:"method,omitempty"`
	Status    int         `json:"status"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Registry   *RegistryInfo     `json:"registry,omitempty"`
	Clients    int               `json:"websocketClients"`
	Uptime     string            `json:"uptime,omitempty"`
}

// RegistryInfo describes the current device snapshot
type RegistryInfo struct {
	ProjectID  string         `json:"projectId"`
	ResolvedAt time.Time      `json:"resolvedAt"`
	Devices    int            `json:"devices"`
	Stats      registry.Stats `json:"stats"`
}

// DevicesResponse lists the devices of the current snapshot
type DevicesResponse struct {
	RegistryInfo
	Items []types.DeviceRecord `json:"items"`
}

// ParseRequest carries free-form credential text
type ParseRequest struct {
	Text string `json:"text"`
}

// ParseResponse returns the parsed credential tokens
type ParseResponse struct {
	Valid   []string `json:"valid"`
	Invalid []string `json:"invalid"`
	Empty   bool     `json:"empty"`
}

// OperationRequest selects devices and credentials for a bulk operation.
// UIDs and Text are merged; for unassign an empty credential set means
// every occupied slot.
type OperationRequest struct {
	DeviceIDs []string `json:"deviceIds"`
	UIDs      []string `json:"uids,omitempty"`
	Text      string   `json:"text,omitempty"`
	Master    bool     `json:"master,omitempty"`
}

// OperationsResponse pages through journaled operations
type OperationsResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ProgressEvent is broadcast when one device of a running operation finishes
type ProgressEvent struct {
	Operation types.OperationKind          `json:"operation"`
	Device    types.DeviceOperationSummary `json:"device"`
}

// OperationFinishedEvent is broadcast when a bulk operation completes
type OperationFinishedEvent struct {
	ID                string              `json:"id"`
	Operation         types.OperationKind `json:"operation"`
	Outcome           string              `json:"outcome"`
	Counts            types.StatusCounts  `json:"counts"`
	Devices           int                 `json:"devices"`
	AuthErrorDetected bool                `json:"authErrorDetected"`
	NothingFound      bool                `json:"nothingFound"`
	FinishedAt        time.Time           `json:"finishedAt"`
}

func newRegistryInfo(snapshot *registry.Snapshot) RegistryInfo {
	return RegistryInfo{
		ProjectID:  snapshot.ProjectID(),
		ResolvedAt: snapshot.ResolvedAt(),
		Devices:    snapshot.Len(),
		Stats:      snapshot.Stats(),
	}
}
