package claim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adjudicator/internal/domain"
)

// doc builds a claim through JSON so numbers decode as float64, exactly as on disk.
func doc(t *testing.T, mutate func(m map[string]any)) map[string]any {
	t.Helper()
	base := map[string]any{
		"schema_version": domain.ClaimSchemaVersion,
		"actor":          "worker-1",
		"task_id":        "task-1",
		"timestamp":      "2026-01-01T10:00:00Z",
		"claim": map[string]any{
			"type":        "code",
			"units_total": 2,
			"units_list":  []any{"parse", "render"},
			"scope":       map[string]any{"repo_root": ".", "files": []any{"a.go"}},
		},
	}
	if mutate != nil {
		mutate(base)
	}
	data, err := json.Marshal(base)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func body(m map[string]any) map[string]any { return m["claim"].(map[string]any) }

func TestValidClaim(t *testing.T) {
	res := Validate(doc(t, nil))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestErrorsAccumulate(t *testing.T) {
	res := Validate(doc(t, func(m map[string]any) {
		m["schema_version"] = "verify.claim/v1.0"
		delete(m, "actor")
		m["timestamp"] = "yesterday"
		body(m)["units_total"] = 3
		delete(body(m), "scope")
	}))
	assert.False(t, res.Valid)
	assert.Equal(t, []string{
		`schema_version must be "verify.claim/v1.1", got "verify.claim/v1.0"`,
		"actor is required",
		`timestamp "yesterday" is not a valid RFC 3339 instant`,
		"claim.units_total (3) does not match units_list length (2)",
		"claim.scope.repo_root is required",
	}, res.Errors)
}

func TestForbiddenFieldsReportedWithPath(t *testing.T) {
	res := Validate(doc(t, func(m map[string]any) {
		m["Coverage"] = 91
		body(m)["declared"] = map[string]any{"notes": []any{map[string]any{"word_count": 1200}}}
	}))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "forbidden field Coverage: claims may not report measured facts")
	assert.Contains(t, res.Errors, "forbidden field claim.declared.notes[0].word_count: claims may not report measured facts")
}

func TestScopeNamesAreExempt(t *testing.T) {
	res := Validate(doc(t, func(m map[string]any) {
		body(m)["scope"] = map[string]any{
			"repo_root": ".",
			"files":     []any{map[string]any{"coverage": "report.html"}},
			"functions": []any{"verified"},
		}
	}))
	assert.True(t, res.Valid, "%v", res.Errors)
}

func TestWarnings(t *testing.T) {
	res := Validate(doc(t, func(m map[string]any) {
		body(m)["units_total"] = 3
		body(m)["units_list"] = []any{"a", "b", "a"}
		body(m)["declared"] = "free text"
	}))
	assert.True(t, res.Valid)
	assert.Equal(t, []string{
		`claim.units_list contains duplicate unit "a"`,
		"claim.declared should be an object, got string",
	}, res.Warnings)
}

func TestUnitsTotalMustBeNonNegativeInteger(t *testing.T) {
	for _, v := range []any{-1, 2.5, "two"} {
		res := Validate(doc(t, func(m map[string]any) { body(m)["units_total"] = v }))
		assert.False(t, res.Valid, "units_total=%v", v)
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claim.json")
	data, err := json.Marshal(doc(t, nil))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	res, raw, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	c, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"parse", "render"}, c.Claim.UnitsList)
	assert.Equal(t, 2, c.Claim.UnitsTotal)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, _, err = ValidateFile(path)
	assert.Error(t, err)

	_, _, err = ValidateFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestForbiddenFieldsSorted(t *testing.T) {
	fields := ForbiddenFields()
	require.NotEmpty(t, fields)
	for i := 1; i < len(fields); i++ {
		assert.Less(t, fields[i-1], fields[i])
	}
}

func TestUnitsListItemsMustBeStrings(t *testing.T) {
	res := Validate(doc(t, func(m map[string]any) {
		body(m)["units_list"] = []any{1, map[string]any{"a": 2}}
	}))
	assert.False(t, res.Valid)
	assert.Equal(t, []string{
		"claim.units_list[0] must be a string, got float64",
		"claim.units_list[1] must be a string, got map[string]interface {}",
	}, res.Errors)
}
