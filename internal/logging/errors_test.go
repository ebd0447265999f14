package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-credential-bridge/internal/types"
)

func TestNewStructuredError(t *testing.T) {
	err := errors.New("test error")
	context := ErrorContext{
		Category:    ErrorCategoryRemote,
		Severity:    ErrorSeverityCritical,
		Component:   "upstream",
		Operation:   "write_slot",
		Recoverable: false,
	}

	structuredErr := NewStructuredError(err, context)

	assert.Equal(t, err, structuredErr.Err)
	assert.Equal(t, context, structuredErr.Context)
	assert.False(t, structuredErr.Timestamp.IsZero())
	assert.NotEmpty(t, structuredErr.Stack)
	assert.Equal(t, "test error", structuredErr.Error())
	assert.Equal(t, err, structuredErr.Unwrap())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrorCategoryUnknown},
		{"http 401", &types.RemoteError{Op: "write_slot", StatusCode: 401}, ErrorCategorySecurity},
		{"token body", &types.RemoteError{Op: "write_slot", StatusCode: 400, Body: "access token expired"}, ErrorCategorySecurity},
		{"service unavailable", &types.RemoteError{Op: "write_slot", StatusCode: 503, Body: "gateway offline"}, ErrorCategoryRemote},
		{"wrapped resolution", fmt.Errorf("%w: project listing", types.ErrResolutionFailed), ErrorCategoryResolution},
		{"precondition", &types.PreconditionError{Devices: []string{"a"}}, ErrorCategoryResolution},
		{"plain", errors.New("boom"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestLogRemoteError(t *testing.T) {
	var buf bytes.Buffer
	logger := Initialize("debug")
	logger.SetOutput(&buf)

	err := &types.RemoteError{Op: "write_slot", StatusCode: 401, Body: "session expired"}
	LogRemoteError(NewServiceLogger(logger, "bulk"), err, "write_slot", "lock-1", "gw-1")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, string(ErrorCategorySecurity), entry["error_category"])
	assert.Equal(t, "lock-1", entry["device_id"])
	assert.Equal(t, "gw-1", entry["gateway_id"])
	assert.Equal(t, float64(401), entry["meta_status_code"])
}

func TestInitializeInvalidLevel(t *testing.T) {
	logger := Initialize("chatty")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
