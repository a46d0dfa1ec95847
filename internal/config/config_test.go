package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Profiles["default"].LintEnabled())
	assert.False(t, cfg.Profiles["lenient"].LintEnabled())
}

func TestResolveProfilePrecedence(t *testing.T) {
	cfg := Default()

	name, p, err := cfg.ResolveProfile("code", "strict")
	require.NoError(t, err)
	assert.Equal(t, "strict", name)
	assert.Equal(t, 80.0, p.CoverageMin)

	name, _, err = cfg.ResolveProfile("content", "")
	require.NoError(t, err)
	assert.Equal(t, "content", name)

	name, _, err = cfg.ResolveProfile("research", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfileName, name)

	_, _, err = cfg.ResolveProfile("code", "paranoid")
	assert.EqualError(t, err, "profile paranoid not found")
}

func TestRequiredArtifacts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"diff", "lint"}, cfg.RequiredArtifacts("code", "default"))
	assert.Equal(t, []string{"diff", "lint", "tests", "coverage"}, cfg.RequiredArtifacts("code", "strict"))
	assert.Equal(t, []string{"links"}, cfg.RequiredArtifacts("research", "links"))
	assert.Nil(t, cfg.RequiredArtifacts("research", "default"))

	got := cfg.RequiredArtifacts("code", "strict")
	got[0] = "mutated"
	assert.Equal(t, "diff", cfg.Profiles["strict"].RequiredArtifacts[0], "callers get a copy")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no profiles":        "default_profile: x\n",
		"missing default":    "default_profile: x\nprofiles:\n  y: {}\n",
		"coverage range":     "profiles:\n  default:\n    coverage_min: 120\n",
		"link threshold":     "profiles:\n  default:\n    link_failure_threshold: 1.5\n",
		"certainty enum":     "profiles:\n  default:\n    function_certainty_required: maybe\n",
		"unknown artifact":   "profiles:\n  default:\n    required_artifacts: [screenshots]\n",
		"task type profile":  "profiles:\n  default: {}\ntask_types:\n  code:\n    profile: nope\n",
		"task type artifact": "profiles:\n  default: {}\ntask_types:\n  code:\n    required_artifacts: [video]\n",
		"malformed yaml":     "profiles: [",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestLoadVariants(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)

	cfg, err = LoadOptional(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(Path(dir), []byte("profiles:\n  default:\n    word_min: 10\n"), 0o644))
	cfg, err = LoadOptional(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Profiles["default"].WordMin)
	assert.Equal(t, filepath.Join(dir, "profiles.yml"), Path(dir))
}

func TestArtifactTable(t *testing.T) {
	assert.True(t, KnownArtifact("diff"))
	assert.False(t, KnownArtifact("video"))
	assert.Equal(t, []string{DiffFile, DiffPatchFile}, ArtifactPaths("diff"))
	assert.Contains(t, ArtifactTypes(), "api_schema")
}
