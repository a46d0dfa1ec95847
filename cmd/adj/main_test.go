package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adjudicator/internal/artifacts"
	"adjudicator/internal/capability"
	"adjudicator/internal/domain"
	"adjudicator/internal/engine"
)

func run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	viper.Reset()
	initConfig()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--workspace", t.TempDir()}, args...))
	code := execute(root)
	return code, out.String()
}

func writeFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func claimDoc(units ...string) map[string]any {
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
			"type":        "research",
			"units_total": len(units),
			"units_list":  list,
			"scope":       map[string]any{"repo_root": "."},
		},
	}
}

// taskWithIndex writes claim and commitment and returns the artifacts index path.
func taskWithIndex(t *testing.T, expected int, units ...string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "claim.json", claimDoc(units...))
	writeFile(t, dir, "commitment.json", map[string]any{
		"task_id":     "task-1",
		"type":        "research",
		"commitments": map[string]any{"expected_total": expected},
	})
	idx, err := artifacts.NewIndexer().Index(dir)
	require.NoError(t, err)
	path, err := artifacts.WriteIndex(dir, idx)
	require.NoError(t, err)
	return path
}

func TestGateExitCodes(t *testing.T) {
	passing := taskWithIndex(t, 2, "a", "b")
	code, out := run(t, "--json", "gate", passing)
	require.Equal(t, exitOK, code, out)
	var v domain.Verdict
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, domain.StatusPass, v.Status)
	assert.FileExists(t, filepath.Join(filepath.Dir(passing), "verdict.json"))

	failing := taskWithIndex(t, 5, "a", "b")
	code, out = run(t, "gate", failing)
	assert.Equal(t, exitFail, code)
	assert.Contains(t, out, "Claimed 2 units but commitment expects 5")

	code, _ = run(t, "gate", "--dry-run", failing)
	assert.Equal(t, exitOK, code)
}

func TestGateInvalidClaimIsValidationFailure(t *testing.T) {
	dir := t.TempDir()
	doc := claimDoc("a")
	doc["coverage"] = 99
	writeFile(t, dir, "claim.json", doc)
	idx, err := artifacts.NewIndexer().Index(dir)
	require.NoError(t, err)
	path, err := artifacts.WriteIndex(dir, idx)
	require.NoError(t, err)

	code, out := run(t, "gate", path)
	assert.Equal(t, exitValidation, code)
	assert.Contains(t, out, "forbidden field coverage")
	assert.NoFileExists(t, filepath.Join(dir, "verdict.json"))
}

func TestGateRejectsTamperedEvidence(t *testing.T) {
	index := taskWithIndex(t, 2, "a", "b")
	writeFile(t, filepath.Dir(index), "commitment.json", map[string]any{
		"task_id":     "task-1",
		"type":        "research",
		"commitments": map[string]any{"expected_total": 1},
	})

	code, out := run(t, "--json", "gate", index)
	assert.Equal(t, exitValidation, code)
	var report artifacts.IntegrityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.OK)
	assert.Equal(t, []string{"commitment.json: checksum does not match artifact index"}, report.Failures)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(index), "verdict.json"))
}

func TestValidateClaim(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", claimDoc("a"))
	code, out := run(t, "validate-claim", good)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "claim valid")

	bad := claimDoc("a", "b")
	bad["claim"].(map[string]any)["units_total"] = 3
	code, _ = run(t, "validate-claim", writeFile(t, dir, "bad.json", bad))
	assert.Equal(t, exitValidation, code)

	code, _ = run(t, "validate-claim", filepath.Join(dir, "missing.json"))
	assert.Equal(t, exitFail, code)
}

func TestResolve(t *testing.T) {
	adapters := t.TempDir()
	writeFile(t, adapters, "lintx/manifest.json", map[string]any{"capabilities": []string{"code:lint"}, "entry": "run.sh"})

	code, out := run(t, "resolve", "code:lint", "--adapters", adapters)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, filepath.Join("lintx", "run.sh"))

	code, _ = run(t, "resolve", "code:format", "--adapters", adapters)
	assert.Equal(t, exitFail, code)
}

func TestUsageErrors(t *testing.T) {
	code, _ := run(t, "gate")
	assert.Equal(t, exitFail, code)
	code, _ = run(t, "validate-claim", "--bogus", "x")
	assert.Equal(t, exitFail, code)
}

func TestPersistAndQuery(t *testing.T) {
	ws := t.TempDir()
	index := taskWithIndex(t, 2, "a", "b")
	viperRun := func(args ...string) (int, string) {
		viper.Reset()
		initConfig()
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{"--workspace", ws}, args...))
		return execute(root), out.String()
	}

	code, out := viperRun("gate", "--persist", index)
	require.Equal(t, exitOK, code, out)

	code, out = viperRun("--json", "units", "task-1")
	require.Equal(t, exitOK, code, out)
	var units []domain.UnitRecord
	require.NoError(t, json.Unmarshal([]byte(out), &units))
	require.Len(t, units, 2)
	assert.True(t, units[0].Claimed)
	assert.True(t, units[0].Verified)

	code, out = viperRun("sessions")
	require.Equal(t, exitOK, code, out)
	assert.Contains(t, out, "task-1")
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{&exitError{code: exitValidation}, exitValidation},
		{fmt.Errorf("wrap: %w", engine.ErrInvalidClaim), exitValidation},
		{fmt.Errorf("%w: a.txt: file missing", engine.ErrIntegrity), exitValidation},
		{fmt.Errorf("%w: missing", engine.ErrInput), exitFail},
		{fmt.Errorf("%w: code:x", capability.ErrNoAdapter), exitFail},
		{errors.New("disk on fire"), exitUnexpected},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, exitCode(tc.err), "%v", tc.err)
	}
}
