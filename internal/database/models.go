package database

import (
	"time"

	"lock-credential-bridge/internal/types"
)

// OperationRecord is the journal row of one bulk operation
type OperationRecord struct {
	ID                string              `json:"id"`
	Operation         types.OperationKind `json:"operation"`
	Outcome           string              `json:"outcome"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
	DeviceCount       int                 `json:"device_count"`
	ResultCount       int                 `json:"result_count"`
	AuthErrorDetected bool                `json:"auth_error_detected"`
	NothingFound      bool                `json:"nothing_found"`
	Counts            types.StatusCounts  `json:"counts"`
}

// CredentialOutcome is one (device, credential) result as journaled
type CredentialOutcome struct {
	ID          int64                 `json:"id"`
	OperationID string                `json:"operation_id"`
	Operation   types.OperationKind   `json:"operation"`
	DeviceID    string                `json:"device_id"`
	GatewayID   string                `json:"gateway_id"`
	UID         string                `json:"uid"`
	Status      types.OperationStatus `json:"status"`
	Slot        *int                  `json:"slot,omitempty"`
	Code        string                `json:"code,omitempty"`
	Message     string                `json:"message,omitempty"`
	RecordedAt  time.Time             `json:"recorded_at"`
}

// OperationFilter narrows ListOperations
type OperationFilter struct {
	Operation types.OperationKind
	Since     time.Time
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f OperationFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}
