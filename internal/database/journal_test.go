package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-credential-bridge/internal/types"
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func intPtr(v int) *int { return &v }

func sampleReport(id string, op types.OperationKind, started time.Time) *types.BulkOperationReport {
	l1 := types.DeviceOperationSummary{
		CanonicalID:  "L1",
		DisplayLabel: "Unit 1 - Front",
		GatewayID:    "gw-1",
		Counts:       types.StatusCounts{},
		Success:      true,
	}
	l1.Record(types.OperationResult{UID: "AA:BB:CC:DD", Status: types.StatusSuccess, Slot: intPtr(2), Message: "assigned to slot 2"})
	l1.Record(types.OperationResult{UID: "11:22:33:44", Status: types.StatusAlreadyAssigned, Slot: intPtr(7), Message: "already in slot 7"})

	l2 := types.DeviceOperationSummary{
		CanonicalID: "L2",
		GatewayID:   "gw-2",
		Counts:      types.StatusCounts{},
	}
	l2.Record(types.OperationResult{UID: "AA:BB:CC:DD", Status: types.StatusFailed, Code: types.CodeNoCapacity, Message: "no free regular slot"})

	report := &types.BulkOperationReport{
		ID:         id,
		Operation:  op,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Devices:    []types.DeviceOperationSummary{l1, l2},
		Counts:     types.StatusCounts{},
		Partial:    true,
	}
	for _, d := range report.Devices {
		report.Counts.Add(d.Counts)
	}
	return report
}

func TestNewDB(t *testing.T) {
	t.Run("sqlite file", func(t *testing.T) {
		db := setupTestDB(t)
		assert.Equal(t, DriverSQLite, db.Driver())
		assert.NoError(t, db.Health(context.Background()))
	})

	t.Run("default driver", func(t *testing.T) {
		db, err := NewDB(Config{DSN: filepath.Join(t.TempDir(), "nested", "journal.db")})
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, DriverSQLite, db.Driver())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		_, err := NewDB(Config{Driver: "mysql", DSN: "x"})
		assert.Error(t, err)
	})

	t.Run("missing dsn", func(t *testing.T) {
		_, err := NewDB(Config{Driver: DriverSQLite})
		assert.Error(t, err)
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "journal.db")
		first, err := NewDB(Config{DSN: path})
		require.NoError(t, err)
		first.Close()

		second, err := NewDB(Config{DSN: path})
		require.NoError(t, err)
		second.Close()
	})
}

func TestRebind(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	postgres := &DB{driver: DriverPostgres}

	query := "SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?"
	assert.Equal(t, query, sqlite.rebind(query))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3", postgres.rebind(query))
}

func TestRecordAndGetOperation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	report := sampleReport("op-1", types.OperationAssign, started)
	require.NoError(t, db.Record(ctx, report))

	got, err := db.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, types.OperationAssign, got.Operation)
	assert.True(t, got.StartedAt.Equal(started))
	require.Len(t, got.Devices, 2)
	assert.Equal(t, report.Devices[0].Results, got.Devices[0].Results)
	assert.Equal(t, 3, got.Counts.Total())

	_, err = db.GetOperation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, db.Record(ctx, report), "duplicate ids are rejected")
	assert.Error(t, db.Record(ctx, &types.BulkOperationReport{}))
}

func TestListOperations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Record(ctx, sampleReport("op-1", types.OperationAssign, base)))
	require.NoError(t, db.Record(ctx, sampleReport("op-2", types.OperationUnassign, base.Add(time.Hour))))
	require.NoError(t, db.Record(ctx, sampleReport("op-3", types.OperationAssign, base.Add(2*time.Hour))))

	all, err := db.ListOperations(ctx, OperationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "op-3", all[0].ID)
	assert.Equal(t, "op-1", all[2].ID)
	assert.Equal(t, types.OutcomePartial, all[0].Outcome)
	assert.Equal(t, 2, all[0].DeviceCount)
	assert.Equal(t, 3, all[0].ResultCount)
	assert.Equal(t, 1, all[0].Counts[types.StatusFailed])

	assigns, err := db.ListOperations(ctx, OperationFilter{Operation: types.OperationAssign})
	require.NoError(t, err)
	assert.Len(t, assigns, 2)

	recent, err := db.ListOperations(ctx, OperationFilter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	paged, err := db.ListOperations(ctx, OperationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "op-2", paged[0].ID)
}

func TestCredentialHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Record(ctx, sampleReport("op-1", types.OperationAssign, base)))
	require.NoError(t, db.Record(ctx, sampleReport("op-2", types.OperationAssign, base.Add(time.Hour))))

	history, err := db.CredentialHistory(ctx, "aa-bb-cc-dd", 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "op-2", history[0].OperationID)
	assert.Equal(t, types.OperationAssign, history[0].Operation)

	var withSlot, withoutSlot int
	for _, o := range history {
		if o.Slot != nil {
			withSlot++
			assert.Equal(t, 2, *o.Slot)
		} else {
			withoutSlot++
			assert.Equal(t, types.CodeNoCapacity, o.Code)
		}
	}
	assert.Equal(t, 2, withSlot)
	assert.Equal(t, 2, withoutSlot)

	_, err = db.CredentialHistory(ctx, "", 10)
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Record(ctx, sampleReport("old", types.OperationAssign, base)))
	require.NoError(t, db.Record(ctx, sampleReport("new", types.OperationAssign, base.Add(48*time.Hour))))

	removed, err := db.Prune(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = db.GetOperation(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := db.CredentialHistory(ctx, "AABBCCDD", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
