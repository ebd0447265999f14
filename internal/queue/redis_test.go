package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-credential-bridge/internal/config"
	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/types"
)

func testReport(id string) *types.BulkOperationReport {
	return &types.BulkOperationReport{
		ID:        id,
		Operation: types.OperationUnassign,
		Counts:    types.StatusCounts{types.StatusSuccess: 2},
		Success:   true,
	}
}

func TestNewMessage(t *testing.T) {
	message := NewMessage(testReport("op-1"))

	assert.Equal(t, "op-1", message.ID)
	assert.Equal(t, MessageTypeOperationFinished, message.Type)
	assert.Equal(t, types.OperationUnassign, message.Operation)
	assert.Equal(t, types.OutcomeSuccess, message.Outcome)
	assert.WithinDuration(t, time.Now(), message.Timestamp, time.Minute)

	data, err := json.Marshal(message)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"bulk_operation.finished"`)
}

func TestNewReportPublisher_RequiresLogger(t *testing.T) {
	_, err := NewReportPublisher(context.Background(), config.RedisConfig{Addr: "localhost:6379"}, nil)
	assert.Error(t, err)
}

func TestReportPublisher_Redis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := config.RedisConfig{
		Addr:       "localhost:6379",
		ListKey:    fmt.Sprintf("lockbridge:test:%d", time.Now().UnixNano()),
		Channel:    "lockbridge:test",
		MaxReports: 2,
	}

	publisher, err := NewReportPublisher(ctx, cfg, logging.Discard())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer publisher.Close()
	defer publisher.client.Del(context.Background(), cfg.ListKey)

	require.NoError(t, publisher.Health(ctx))

	for i := 1; i <= 3; i++ {
		require.NoError(t, publisher.Record(ctx, testReport(fmt.Sprintf("op-%d", i))))
	}

	length, err := publisher.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length, "list is capped")

	recent, err := publisher.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "op-3", recent[0].ID)
	assert.Equal(t, "op-2", recent[1].ID)
	assert.Equal(t, 2, recent[0].Report.Counts[types.StatusSuccess])
}
