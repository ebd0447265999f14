package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrResolutionFailed is wrapped by every error that prevents building a registry
var ErrResolutionFailed = errors.New("device resolution failed")

// PreconditionError lists selected devices that cannot be written to
type PreconditionError struct {
	Devices []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: devices missing gateway or canonical id: %s",
		strings.Join(e.Devices, ", "))
}

// authSignatures are lowercase fragments that mark an expired or rejected session
var authSignatures = []string{
	"unauthorized",
	"unauthenticated",
	"not authorized",
	"authentication",
	"token",
	"session expired",
	"login required",
}

// HasAuthSignature reports whether text carries an auth-expiry indicator
func HasAuthSignature(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range authSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// RemoteError describes a failed call against the device-management service
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Timeout {
		b.WriteString(": timeout")
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether the failure looks like an authentication or session expiry
func (e *RemoteError) IsAuth() bool {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	if HasAuthSignature(e.Body) {
		return true
	}
	if !e.Timeout && e.Err != nil {
		return HasAuthSignature(e.Err.Error())
	}
	return false
}

// UpstreamMessage returns the most useful human-readable text of the failure
func (e *RemoteError) UpstreamMessage() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode != 0 {
		return http.StatusText(e.StatusCode)
	}
	return "remote call failed"
}
