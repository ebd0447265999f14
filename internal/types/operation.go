package types

import (
	"time"
)

// OperationStatus is the outcome of one (device, credential) pair
type OperationStatus string

const (
	StatusSuccess         OperationStatus = "success"
	StatusAlreadyAssigned OperationStatus = "already_assigned"
	StatusNotFound        OperationStatus = "not_found"
	StatusAuthError       OperationStatus = "auth_error"
	StatusFailed          OperationStatus = "failed"
)

// Failure codes refining StatusFailed and StatusAuthError
const (
	CodeNoCapacity     = "no_capacity"
	CodeRemoteFailed   = "remote_failed"
	CodeTimeout        = "timeout"
	CodeAuthExpired    = "auth_expired"
	CodeSnapshotFailed = "snapshot_failed"
)

// OperationKind names a bulk operation
type OperationKind string

const (
	OperationAssign       OperationKind = "assign"
	OperationAssignMaster OperationKind = "assign_master"
	OperationUnassign     OperationKind = "unassign"
)

// Report outcomes
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// OperationResult is the outcome for a single credential on a single device
type OperationResult struct {
	UID     string          `json:"uid"`
	Status  OperationStatus `json:"status"`
	Slot    *int            `json:"slot,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
}

// StatusCounts tallies results by status
type StatusCounts map[OperationStatus]int

// Add merges other into c
func (c StatusCounts) Add(other StatusCounts) {
	for status, n := range other {
		c[status] += n
	}
}

// Total returns the number of results counted
func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// DeviceOperationSummary aggregates the results of one device
type DeviceOperationSummary struct {
	CanonicalID  string            `json:"canonicalId"`
	DisplayLabel string            `json:"displayLabel"`
	GatewayID    string            `json:"gatewayId"`
	Counts       StatusCounts      `json:"counts"`
	Results      []OperationResult `json:"results"`
	Success      bool              `json:"success"`
	Message      string            `json:"message,omitempty"`
	Error        string            `json:"error,omitempty"`
	AuthError    bool              `json:"authError,omitempty"`
}

// Record appends a result and updates the counts
func (s *DeviceOperationSummary) Record(result OperationResult) {
	if s.Counts == nil {
		s.Counts = make(StatusCounts)
	}
	s.Results = append(s.Results, result)
	s.Counts[result.Status]++
	if result.Status == StatusAuthError {
		s.AuthError = true
	}
}

// BulkOperationReport aggregates a whole bulk operation
type BulkOperationReport struct {
	ID                string                   `json:"id"`
	Operation         OperationKind            `json:"operation"`
	StartedAt         time.Time                `json:"startedAt"`
	FinishedAt        time.Time                `json:"finishedAt"`
	Counts            StatusCounts             `json:"counts"`
	Devices           []DeviceOperationSummary `json:"devices"`
	Success           bool                     `json:"success"`
	Partial           bool                     `json:"partial"`
	AuthErrorDetected bool                     `json:"authErrorDetected"`
	NothingFound      bool                     `json:"nothingFound"`
}

// Outcome classifies the report for presentation
func (r *BulkOperationReport) Outcome() string {
	switch {
	case r.Success:
		return OutcomeSuccess
	case r.Partial:
		return OutcomePartial
	default:
		return OutcomeFailure
	}
}
