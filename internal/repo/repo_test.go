package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adjudicator/internal/db"
	"adjudicator/internal/domain"
	"adjudicator/internal/events"
	"adjudicator/internal/migrate"
	"adjudicator/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return repo.Repo{DB: conn}
}

func TestUnitsUpsertLastWriteWins(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	require.NoError(t, r.UpsertUnits(ctx, nil, []domain.UnitRecord{
		{TaskID: "t1", UnitID: "b", UnitType: "file", Claimed: true, Verified: false, Reason: "missing", CreatedAt: "2026-01-01T00:00:00Z"},
		{TaskID: "t1", UnitID: "a", UnitType: "file", Claimed: true, Verified: true, CreatedAt: "2026-01-01T00:00:00Z"},
		{TaskID: "t2", UnitID: "a", UnitType: "url", CreatedAt: "2026-01-01T00:00:00Z"},
	}))
	require.NoError(t, r.UpsertUnits(ctx, nil, []domain.UnitRecord{
		{TaskID: "t1", UnitID: "b", UnitType: "file", Claimed: true, Verified: true, CreatedAt: "2026-01-02T00:00:00Z"},
	}))

	units, err := r.ListUnits(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].UnitID)
	assert.Equal(t, "b", units[1].UnitID)
	assert.True(t, units[1].Verified)
	assert.Empty(t, units[1].Reason)
	assert.Equal(t, "2026-01-02T00:00:00Z", units[1].CreatedAt)

	empty, err := r.ListUnits(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	assert.Error(t, r.UpsertUnits(ctx, nil, []domain.UnitRecord{{TaskID: "t1"}}))
}

func TestMetricsLatestAndHistory(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	require.NoError(t, r.AppendMetrics(ctx, nil, []domain.MetricRecord{
		{TaskID: "t1", Key: "coverage", Value: 61, CreatedAt: "2026-01-01T00:00:00Z"},
		{TaskID: "t1", Key: "verdict_pass", Value: 0, CreatedAt: "2026-01-01T00:00:00Z"},
		{TaskID: "t1", Key: "coverage", Value: 84, CreatedAt: "2026-01-02T00:00:00Z"},
		{TaskID: "t2", Key: "coverage", Value: 10, CreatedAt: "2026-01-03T00:00:00Z"},
	}))
	// Same instant overwrites.
	require.NoError(t, r.AppendMetrics(ctx, nil, []domain.MetricRecord{
		{TaskID: "t1", Key: "verdict_pass", Value: 1, CreatedAt: "2026-01-01T00:00:00Z"},
	}))

	latest, err := r.LatestMetrics(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "coverage", latest[0].Key)
	assert.Equal(t, 84.0, latest[0].Value)
	assert.Equal(t, "verdict_pass", latest[1].Key)
	assert.Equal(t, 1.0, latest[1].Value)

	history, err := r.MetricHistory(ctx, "t1", "coverage")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 61.0, history[0].Value)
	assert.Equal(t, 84.0, history[1].Value)

	assert.Error(t, r.AppendMetrics(ctx, nil, []domain.MetricRecord{{TaskID: "t1", Key: "x"}}))
}

func TestSessionsListingAndCounts(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	for _, s := range []domain.Session{
		{TaskID: "t1", Status: domain.StatusFail, Type: "code", Profile: "default", GateType: domain.GateDiffMismatch, UpdatedAt: "2026-01-01T00:00:00Z"},
		{TaskID: "t2", Status: domain.StatusPass, Type: "content", Profile: "content", UpdatedAt: "2026-01-02T00:00:00Z"},
		{TaskID: "t3", Status: domain.StatusPass, Type: "code", Profile: "default", UpdatedAt: "2026-01-02T00:00:00Z"},
	} {
		require.NoError(t, r.UpsertSession(ctx, nil, s))
	}

	got, err := r.GetSession(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.GateDiffMismatch, got.GateType)
	_, err = r.GetSession(ctx, "missing")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	all, err := r.ListSessions(ctx, repo.SessionFilters{})
	require.NoError(t, err)
	ids := []string{}
	for _, s := range all {
		ids = append(ids, s.TaskID)
	}
	assert.Equal(t, []string{"t3", "t2", "t1"}, ids)

	page, err := r.ListSessions(ctx, repo.SessionFilters{CursorUpdatedAt: "2026-01-02T00:00:00Z", CursorTaskID: "t3"})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "t2", page[0].TaskID)

	code, err := r.ListSessions(ctx, repo.SessionFilters{Type: "code", Status: domain.StatusPass})
	require.NoError(t, err)
	require.Len(t, code, 1)
	assert.Equal(t, "t3", code[0].TaskID)

	require.NoError(t, r.UpsertSession(ctx, nil, domain.Session{TaskID: "t1", Status: domain.StatusPass, Type: "code", Profile: "default", UpdatedAt: "2026-01-03T00:00:00Z"}))
	counts, err := r.CountSessionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{domain.StatusPass: 3, domain.StatusFail: 0, domain.StatusInconclusive: 0}, counts)
	got, err = r.GetSession(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.GateType)
}

func TestEventsNewestFirstWithCursor(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	w := events.Writer{DB: r.DB}

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, events.TypeGateEvaluated, "t1", "run-1", "worker", events.EventPayload{"status": "fail"}))
	require.NoError(t, w.Append(ctx, tx, events.TypeVerdictPersisted, "t1", "run-1", "worker", nil))
	require.NoError(t, w.Append(ctx, tx, events.TypeGateEvaluated, "t2", "run-2", "worker", nil))
	require.NoError(t, tx.Commit())

	evts, err := r.LatestEvents(ctx, repo.EventFilters{TaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, events.TypeVerdictPersisted, evts[0].Type)
	assert.Equal(t, `{"status":"fail"}`, evts[1].Payload)

	older, err := r.LatestEvents(ctx, repo.EventFilters{TaskID: "t1", Cursor: evts[0].ID})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, evts[1].ID, older[0].ID)

	typed, err := r.LatestEvents(ctx, repo.EventFilters{Type: events.TypeGateEvaluated, Limit: 1})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, "t2", typed[0].TaskID)
}

func TestAPIKeys(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	key := domain.APIKey{ID: "k1", ActorID: "ci", Name: "pipeline", KeyHash: repo.HashAPIKey("adj_secret"), CreatedAt: "2026-01-01T00:00:00Z"}
	require.NoError(t, r.InsertAPIKey(ctx, nil, key))

	got, err := r.LookupAPIKey(ctx, " adj_secret ")
	require.NoError(t, err)
	assert.Equal(t, "ci", got.ActorID)
	_, err = r.LookupAPIKey(ctx, "adj_other")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	keys, err := r.ListAPIKeys(ctx, "ci")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	assert.True(t, errors.Is(r.DeleteAPIKey(ctx, "k1"), repo.ErrNotFound))
	assert.Error(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", ActorID: "ci"}))
}
