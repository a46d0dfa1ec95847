package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"adjudicator/internal/artifacts"
	"adjudicator/internal/config"
	"adjudicator/internal/db"
	"adjudicator/internal/domain"
	"adjudicator/internal/engine"
	"adjudicator/internal/migrate"
	"adjudicator/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

func writeJSON(t *testing.T, dir, name string, v any) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func validClaim(taskType string, units ...string) map[string]any {
	list := make([]any, 0, len(units))
	for _, u := range units {
		list = append(list, u)
	}
	return map[string]any{
		"schema_version": domain.ClaimSchemaVersion,
		"actor":          "worker-1",
		"task_id":        "task-1",
		"timestamp":      "2026-01-01T00:00:00Z",
		"claim": map[string]any{
			"type":        taskType,
			"units_total": len(units),
			"units_list":  list,
			"scope":       map[string]any{"repo_root": "."},
		},
	}
}

// newTask lays out a task directory and writes its artifacts index.
func newTask(t *testing.T, files map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	for name, v := range files {
		writeJSON(t, dir, name, v)
	}
	idx, err := artifacts.NewIndexer().Index(dir)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	path, err := artifacts.WriteIndex(dir, idx)
	if err != nil {
		t.Fatalf("write index: %v", err)
	}
	return path
}

func TestEvaluateUnitsShortfall(t *testing.T) {
	env := newTestEnv(t)
	units := []string{"a", "b", "c", "d", "e", "f", "g"}
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("content", units...),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "research", "commitments": map[string]any{"expected_total": 10}},
	})

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{WriteVerdict: true})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Verdict.Status != domain.StatusFail {
		t.Fatalf("expected fail, got %s", ev.Verdict.Status)
	}
	c := ev.Verdict.Checks[0]
	if c.Name != "units_count" || c.Passed {
		t.Fatalf("unexpected first check %+v", c)
	}
	if got, _ := c.Detail("expected"); got != 10 {
		t.Fatalf("expected detail 10, got %v", got)
	}
	if got, _ := c.Detail("actual"); got != 7 {
		t.Fatalf("actual detail 7, got %v", got)
	}

	onDisk, err := engine.ReadVerdict(ev.VerdictPath)
	if err != nil {
		t.Fatalf("read verdict: %v", err)
	}
	if onDisk.Status != domain.StatusFail || len(onDisk.Checks) != len(ev.Verdict.Checks) {
		t.Fatalf("verdict on disk differs: %+v", onDisk)
	}
}

func TestEvaluateLintErrors(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("code", "Load()"),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "code"},
		"diff.json":       map[string]any{"files": []any{map[string]any{"path": "a.go", "additions": 3, "deletions": 1}}},
		"lint.json":       map[string]any{"errors": 3, "warnings": 1},
	})

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Verdict.Status != domain.StatusFail {
		t.Fatalf("expected fail, got %s", ev.Verdict.Status)
	}
	if ev.Verdict.Profile != "default" {
		t.Fatalf("expected default profile, got %s", ev.Verdict.Profile)
	}
	found := false
	for _, r := range ev.Verdict.Reasons {
		if strings.Contains(r, "Lint errors found: 3") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing lint reason in %v", ev.Verdict.Reasons)
	}
}

func TestEvaluateAPISchemaMissing(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("api", "GET /users"),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "api"},
	})

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Verdict.Status != domain.StatusFail {
		t.Fatalf("expected fail, got %s", ev.Verdict.Status)
	}
	want := "API schema validation required but no results found"
	found := false
	for _, r := range ev.Verdict.Reasons {
		if r == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing %q in %v", want, ev.Verdict.Reasons)
	}
}

func TestEvaluateInvalidClaim(t *testing.T) {
	env := newTestEnv(t)
	bad := validClaim("code", "a", "b")
	bad["claim"].(map[string]any)["units_total"] = 3
	indexPath := newTask(t, map[string]any{"claim.json": bad})

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{})
	if !errors.Is(err, engine.ErrInvalidClaim) {
		t.Fatalf("expected ErrInvalidClaim, got %v", err)
	}
	if ev.ClaimResult.Valid || len(ev.ClaimResult.Errors) == 0 {
		t.Fatalf("expected claim errors, got %+v", ev.ClaimResult)
	}
}

func TestEvaluateMissingIndex(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.EvaluateIndex(env.Ctx, filepath.Join(t.TempDir(), "artifacts.json"), engine.EvaluateOptions{})
	if !errors.Is(err, engine.ErrInput) {
		t.Fatalf("expected ErrInput, got %v", err)
	}
}

func TestPersistWritesUnitsMetricsAndSession(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("code", "Load()", "Save()"),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "code"},
		"diff.json":       map[string]any{"files": []any{}},
		"lint.json":       map[string]any{"errors": 0},
		"tests.json":      map[string]any{"passed": 5, "failed": 0},
	})

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{Persist: true})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Verdict.Status != domain.StatusPass {
		t.Fatalf("expected pass, got %s: %v", ev.Verdict.Status, ev.Verdict.Reasons)
	}
	if ev.Outcome == nil || ev.Outcome.Strategy != "fallback" {
		t.Fatalf("expected fallback outcome, got %+v", ev.Outcome)
	}

	units, err := env.Engine.Repo.ListUnits(env.Ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 || !units[0].Verified || !units[0].Claimed {
		t.Fatalf("unexpected units %+v", units)
	}

	metrics, err := env.Engine.Repo.LatestMetrics(env.Ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, m := range metrics {
		got[m.Key] = m.Value
	}
	if got["verdict_pass"] != 1 || got["tests_passed"] != 5 || got["lint_errors"] != 0 {
		t.Fatalf("unexpected metrics %+v", got)
	}

	sess, err := env.Engine.Repo.GetSession(env.Ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != domain.StatusPass || sess.UnitsVerified != 2 {
		t.Fatalf("unexpected session %+v", sess)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{TaskID: "task-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != "verdict.persisted" || evts[0].ActorID != "worker-1" {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestPersistTaskUsesExternalPerUnitVerdict(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json": validClaim("content", "intro", "summary"),
		"verdict.json": map[string]any{
			"task_id": "task-1",
			"status":  "fail",
			"type":    "content",
			"checks":  []any{},
			"reasons": []any{"summary is missing"},
			"per_unit": []any{
				map[string]any{"unit_id": "intro", "verified": true},
				map[string]any{"unit_id": "summary", "verified": false, "reason": "not found"},
			},
		},
	})

	out, err := env.Engine.PersistTask(env.Ctx, filepath.Dir(indexPath), "")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if out.Strategy != "per_unit" {
		t.Fatalf("expected per_unit, got %s", out.Strategy)
	}
	units, err := env.Engine.Repo.ListUnits(env.Ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 || units[1].UnitID != "summary" || units[1].Verified || units[1].Reason != "not found" {
		t.Fatalf("unexpected units %+v", units)
	}
}

func TestPersistUpsertIsLastWriteWins(t *testing.T) {
	env := newTestEnv(t)
	c := domain.Claim{TaskID: "task-1", Claim: domain.ClaimBody{Type: "content", UnitsList: []string{"a"}}}

	fail := domain.Verdict{TaskID: "task-1", Status: domain.StatusFail}
	if _, err := env.Engine.Persist(env.Ctx, fail, c, "tester"); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	pass := domain.Verdict{TaskID: "task-1", Status: domain.StatusPass}
	if _, err := env.Engine.Persist(env.Ctx, pass, c, "tester"); err != nil {
		t.Fatal(err)
	}

	units, err := env.Engine.Repo.ListUnits(env.Ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || !units[0].Verified {
		t.Fatalf("expected a single verified unit, got %+v", units)
	}
	history, err := env.Engine.Repo.MetricHistory(env.Ctx, "task-1", "verdict_pass")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Value != 0 || history[1].Value != 1 {
		t.Fatalf("unexpected history %+v", history)
	}
	latest, err := env.Engine.Repo.LatestMetrics(env.Ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].Value != 1 {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestCheckArtifacts(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("code", "Load()"),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "code"},
		"diff.json":       map[string]any{"files": []any{}},
	})

	res, err := env.Engine.CheckArtifacts(filepath.Dir(indexPath), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() || len(res.Missing) != 1 || res.Missing[0] != "lint" {
		t.Fatalf("expected lint missing, got %+v", res)
	}

	res, err = env.Engine.CheckArtifacts(filepath.Dir(indexPath), "strict")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(res.Missing, ",") != "lint,tests,coverage" {
		t.Fatalf("strict profile list overrides task defaults: %+v", res)
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, "dashboard", "ci")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(raw, "adj_") || key.KeyHash == raw {
		t.Fatalf("unexpected key material %q %+v", raw, key)
	}
	got, err := env.Engine.Repo.LookupAPIKey(env.Ctx, raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != key.ID || got.ActorID != "dashboard" {
		t.Fatalf("lookup mismatch %+v", got)
	}
}

// captureChecksums records checksums.sha256 for the index at indexPath.
func captureChecksums(t *testing.T, indexPath string) {
	t.Helper()
	idx, err := artifacts.LoadIndex(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := artifacts.WriteChecksums(idx.TaskDir, idx); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluateReadsEvidenceFromDiskNotStoredSummary(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("code", "Load()"),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "code"},
		"diff.json":       map[string]any{"files": []any{map[string]any{"path": "a.go", "additions": 1}}},
		"lint.json":       map[string]any{"errors": 3},
	})
	captureChecksums(t, indexPath)

	idx, err := artifacts.LoadIndex(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	idx.Summary.Lint = &domain.LintSummary{}
	if _, err := artifacts.WriteIndex(idx.TaskDir, idx); err != nil {
		t.Fatal(err)
	}

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Verdict.Status != domain.StatusFail {
		t.Fatalf("forged summary must not pass, got %s", ev.Verdict.Status)
	}
	found := false
	for _, r := range ev.Verdict.Reasons {
		if strings.Contains(r, "Lint errors found: 3") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing lint reason in %v", ev.Verdict.Reasons)
	}
}

func TestEvaluateRejectsEvidenceChangedAfterCapture(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":        validClaim("content", "intro"),
		"commitment.json":   map[string]any{"task_id": "task-1", "type": "content"},
		"content/scan.json": map[string]any{"files": []any{map[string]any{"path": "intro.md", "words": 10}}},
	})
	captureChecksums(t, indexPath)
	dir := filepath.Dir(indexPath)
	writeJSON(t, dir, "content/scan.json", map[string]any{"files": []any{map[string]any{"path": "intro.md", "words": 900}}})

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{WriteVerdict: true})
	if !errors.Is(err, engine.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if ev.Integrity.OK {
		t.Fatalf("expected failed integrity report")
	}
	want := []string{
		"content/scan.json: checksum does not match artifact index",
		"content/scan.json: checksum does not match manifest",
	}
	if strings.Join(ev.Integrity.Failures, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected failures %v", ev.Integrity.Failures)
	}
	if _, err := os.Stat(filepath.Join(dir, config.VerdictFile)); !os.IsNotExist(err) {
		t.Fatalf("no verdict may be written for tampered evidence (stat err=%v)", err)
	}
}

func TestEvaluateRejectsEvidenceAddedAfterIndexing(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("code", "Load()"),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "code"},
		"diff.json":       map[string]any{"files": []any{}},
	})
	writeJSON(t, filepath.Dir(indexPath), "lint.json", map[string]any{"errors": 0})

	ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{})
	if !errors.Is(err, engine.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if len(ev.Integrity.Failures) != 1 || ev.Integrity.Failures[0] != "lint.json: not in artifact index" {
		t.Fatalf("unexpected failures %v", ev.Integrity.Failures)
	}
}

func TestEvaluateTwiceAfterChecksumCapture(t *testing.T) {
	env := newTestEnv(t)
	indexPath := newTask(t, map[string]any{
		"claim.json":      validClaim("research", "a", "b"),
		"commitment.json": map[string]any{"task_id": "task-1", "type": "research", "commitments": map[string]any{"expected_total": 2}},
	})
	captureChecksums(t, indexPath)

	for i := 0; i < 2; i++ {
		ev, err := env.Engine.EvaluateIndex(env.Ctx, indexPath, engine.EvaluateOptions{WriteVerdict: true})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !ev.Integrity.OK || ev.Verdict.Status != domain.StatusPass {
			t.Fatalf("run %d: integrity=%+v status=%s", i, ev.Integrity, ev.Verdict.Status)
		}
	}
}
