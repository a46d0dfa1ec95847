package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adjudicator/internal/db"
	"adjudicator/internal/migrate"
)

func TestAppendWithAndWithoutTx(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))

	w := Writer{DB: conn, Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, TypeGateEvaluated, "t1", "run-1", "worker", EventPayload{"status": "pass"}))
	require.NoError(t, tx.Rollback())

	require.NoError(t, w.Append(ctx, nil, TypeAPIKeyCreated, "", "key-1", "ops", nil))

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Equal(t, 1, n, "rolled back event must not persist")

	var ts, typ, payload string
	var taskID any
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT ts,type,task_id,payload_json FROM events`).Scan(&ts, &typ, &taskID, &payload))
	assert.Equal(t, "2026-03-01T12:00:00Z", ts)
	assert.Equal(t, TypeAPIKeyCreated, typ)
	assert.Nil(t, taskID)
	assert.Equal(t, "{}", payload)
}

func TestAppendRejectsMissingTypeAndStore(t *testing.T) {
	ctx := context.Background()
	assert.EqualError(t, Writer{}.Append(ctx, nil, "", "t1", "", "a", nil), "event type is required")
	assert.EqualError(t, Writer{}.Append(ctx, nil, TypeGateEvaluated, "t1", "", "a", nil), "event writer has no database")
}
