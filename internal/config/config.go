package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultProfileName is used when neither the commitment nor the task type names a profile.
const DefaultProfileName = "default"

// Config models profiles.yml.
type Config struct {
	DefaultProfile string                    `yaml:"default_profile" json:"default_profile"`
	Profiles       map[string]Profile        `yaml:"profiles" json:"profiles"`
	TaskTypes      map[string]TaskTypePolicy `yaml:"task_types" json:"task_types"`
}

// Profile is a named threshold bundle. It is never mutated after load.
type Profile struct {
	LintClean                 *bool    `yaml:"lint_clean,omitempty" json:"lint_clean,omitempty"`
	TestsRequired             bool     `yaml:"tests_required" json:"tests_required"`
	CoverageMin               float64  `yaml:"coverage_min" json:"coverage_min" validate:"gte=0,lte=100"`
	WordMin                   int      `yaml:"word_min" json:"word_min" validate:"gte=0"`
	LinkFailureThreshold      float64  `yaml:"link_failure_threshold" json:"link_failure_threshold" validate:"gte=0,lte=1"`
	SchemaRequired            bool     `yaml:"schema_required" json:"schema_required"`
	LatencyBudgetMS           float64  `yaml:"latency_budget_ms" json:"latency_budget_ms" validate:"gte=0"`
	FunctionCertaintyRequired string   `yaml:"function_certainty_required" json:"function_certainty_required" validate:"omitempty,oneof=certain fuzzy"`
	RejectUnclaimedChanges    bool     `yaml:"reject_unclaimed_changes" json:"reject_unclaimed_changes"`
	RequiredArtifacts         []string `yaml:"required_artifacts,omitempty" json:"required_artifacts,omitempty" validate:"dive,required"`
}

// LintEnabled reports whether lint errors gate the task. Unset means enabled.
func (p Profile) LintEnabled() bool {
	return p.LintClean == nil || *p.LintClean
}

// TaskTypePolicy maps a task type to its default profile and required evidence.
type TaskTypePolicy struct {
	Profile           string   `yaml:"profile" json:"profile"`
	RequiredArtifacts []string `yaml:"required_artifacts" json:"required_artifacts"`
}

var validate = validator.New()

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("config.profiles is required")
	}
	def := c.defaultProfile()
	if _, ok := c.Profiles[def]; !ok {
		return fmt.Errorf("default profile %s not defined", def)
	}
	for _, name := range sortedKeys(c.Profiles) {
		p := c.Profiles[name]
		if name == "" {
			return fmt.Errorf("config.profiles contains empty profile name")
		}
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		for _, kind := range p.RequiredArtifacts {
			if !KnownArtifact(kind) {
				return fmt.Errorf("profile %s requires unknown artifact type %s", name, kind)
			}
		}
	}
	for _, taskType := range sortedKeys(c.TaskTypes) {
		tp := c.TaskTypes[taskType]
		if taskType == "" {
			return fmt.Errorf("config.task_types contains empty task type")
		}
		if tp.Profile != "" {
			if _, ok := c.Profiles[tp.Profile]; !ok {
				return fmt.Errorf("task type %s references unknown profile %s", taskType, tp.Profile)
			}
		}
		for _, kind := range tp.RequiredArtifacts {
			if !KnownArtifact(kind) {
				return fmt.Errorf("task type %s requires unknown artifact type %s", taskType, kind)
			}
		}
	}
	return nil
}

func (c *Config) defaultProfile() string {
	if c.DefaultProfile != "" {
		return c.DefaultProfile
	}
	return DefaultProfileName
}

// ResolveProfile picks the profile for a task: an explicit name wins, then the
// task type mapping, then the default profile.
func (c *Config) ResolveProfile(taskType, requested string) (string, Profile, error) {
	name := requested
	if name == "" {
		if tp, ok := c.TaskTypes[taskType]; ok && tp.Profile != "" {
			name = tp.Profile
		}
	}
	if name == "" {
		name = c.defaultProfile()
	}
	p, ok := c.Profiles[name]
	if !ok {
		return "", Profile{}, fmt.Errorf("profile %s not found", name)
	}
	return name, p, nil
}

// RequiredArtifacts is the single source of required-evidence policy. A profile
// that lists artifacts overrides the task type defaults.
func (c *Config) RequiredArtifacts(taskType, profileName string) []string {
	if p, ok := c.Profiles[profileName]; ok && len(p.RequiredArtifacts) > 0 {
		return append([]string(nil), p.RequiredArtifacts...)
	}
	if tp, ok := c.TaskTypes[taskType]; ok {
		return append([]string(nil), tp.RequiredArtifacts...)
	}
	return nil
}

// Load reads and validates the profiles file. An empty path yields the built-in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("profiles %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to the defaults when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Path returns the conventional profiles path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "profiles.yml")
}

// GenerateDefault returns the default profiles YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in profiles.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid profiles yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const defaultTemplate = `default_profile: default

profiles:
  default:
    tests_required: false
    coverage_min: 0
    link_failure_threshold: 0
    function_certainty_required: fuzzy

  strict:
    tests_required: true
    coverage_min: 80
    function_certainty_required: certain
    reject_unclaimed_changes: true
    required_artifacts: [diff, lint, tests, coverage]

  lenient:
    lint_clean: false
    link_failure_threshold: 0.1

  content:
    word_min: 300
    required_artifacts: [content]

  links:
    link_failure_threshold: 0.05
    required_artifacts: [links]

  api:
    schema_required: true
    latency_budget_ms: 500
    required_artifacts: [api_schema]

task_types:
  code:
    profile: default
    required_artifacts: [diff, lint]
  content:
    profile: content
    required_artifacts: [content]
  link_check:
    profile: links
    required_artifacts: [links]
  api:
    profile: api
    required_artifacts: [api_schema]
`
