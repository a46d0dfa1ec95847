package domain

import (
	"encoding/json"
	"fmt"
)

// ClaimSchemaVersion is the only schema tag accepted for claims.
const ClaimSchemaVersion = "verify.claim/v1.1"

// Verdict statuses.
const (
	StatusPass         = "pass"
	StatusFail         = "fail"
	StatusInconclusive = "inconclusive"
)

// Gate types attached to a failing verdict.
const (
	GateSchemaMismatch  = "SCHEMA_MISMATCH"
	GateDiffMismatch    = "DIFF_MISMATCH"
	GateMissingEvidence = "MISSING_EVIDENCE"
)

// Function match certainties.
const (
	CertaintyCertain = "certain"
	CertaintyFuzzy   = "fuzzy"
)

type Commitment struct {
	TaskID       string                 `json:"task_id"`
	Type         string                 `json:"type"`
	ProfileName  string                 `json:"profile_name,omitempty"`
	Commitments  CommitmentTargets      `json:"commitments"`
	Requirements CommitmentRequirements `json:"requirements"`
}

type CommitmentTargets struct {
	ExpectedTotal *int `json:"expected_total,omitempty"`
	Quality       struct {
		WordMin *int `json:"word_min,omitempty"`
	} `json:"quality"`
}

type CommitmentRequirements struct {
	Functions []string `json:"functions,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
}

type Claim struct {
	SchemaVersion string    `json:"schema_version"`
	Actor         string    `json:"actor"`
	TaskID        string    `json:"task_id"`
	Timestamp     string    `json:"timestamp" format:"date-time"`
	Claim         ClaimBody `json:"claim"`
}

type ClaimBody struct {
	Type       string         `json:"type"`
	UnitsTotal int            `json:"units_total"`
	UnitsList  []string       `json:"units_list"`
	Scope      ClaimScope     `json:"scope"`
	Declared   map[string]any `json:"declared,omitempty"`
}

type ClaimScope struct {
	RepoRoot  string   `json:"repo_root"`
	Files     []string `json:"files,omitempty"`
	Functions []string `json:"functions,omitempty"`
}

type ArtifactRecord struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified" format:"date-time"`
	Checksum string `json:"checksum"`
}

type ArtifactIndex struct {
	TaskDir     string           `json:"task_dir"`
	GeneratedAt string           `json:"generated_at" format:"date-time"`
	Artifacts   []ArtifactRecord `json:"artifacts"`
	Summary     ArtifactSummary  `json:"summary"`
}

// Lookup returns the record for a task-relative path.
func (idx ArtifactIndex) Lookup(path string) (ArtifactRecord, bool) {
	for _, a := range idx.Artifacts {
		if a.Path == path {
			return a, true
		}
	}
	return ArtifactRecord{}, false
}

// ArtifactSummary is the best-effort digest of well-known artifacts.
type ArtifactSummary struct {
	Diff     *DiffSummary     `json:"diff,omitempty"`
	Lint     *LintSummary     `json:"lint,omitempty"`
	Tests    *TestSummary     `json:"tests,omitempty"`
	Coverage *CoverageSummary `json:"coverage,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

type DiffSummary struct {
	FilesChanged int      `json:"files_changed"`
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`
	Files        []string `json:"files,omitempty"`
}

type LintSummary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

type TestSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

type CoverageSummary struct {
	Percentage float64 `json:"percentage"`
}

type AdapterManifest struct {
	Capabilities []string `json:"capabilities" validate:"required,min=1,dive,capability"`
	Entry        string   `json:"entry" validate:"required,relpath"`
}

type FunctionMap struct {
	Matched         []FunctionMatch `json:"matched"`
	UnmatchedClaims []string        `json:"unmatched_claims"`
	UnmatchedDiffs  []UnmatchedDiff `json:"unmatched_diffs"`
}

type FunctionMatch struct {
	Claim     string `json:"claim,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	File      string `json:"file,omitempty"`
	Certainty string `json:"certainty"`
}

type UnmatchedDiff struct {
	File        string `json:"file"`
	Significant bool   `json:"significant"`
}

// ContentScan is produced by the content adapter (content/scan.json).
type ContentScan struct {
	Files []ContentFile `json:"files"`
}

type ContentFile struct {
	Path  string `json:"path"`
	Words int    `json:"words"`
}

// LinkStatuses is produced by the link checker (links/statuses.json).
type LinkStatuses struct {
	Results []LinkResult `json:"results"`
}

type LinkResult struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	OK     bool   `json:"ok"`
}

// URLSet lists the URLs the link checker was asked to check (links/urlset.json).
type URLSet struct {
	URLs []string `json:"urls"`
}

// SchemaResult is produced by the API adapter (api/schema_result.json).
type SchemaResult struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors,omitempty"`
	EndpointsChecked int      `json:"endpoints_checked,omitempty"`
	LatencyP95MS     *float64 `json:"latency_p95_ms,omitempty"`
}

// Check is one gate check record. Details are flattened next to name/passed on the wire.
type Check struct {
	Name    string
	Passed  bool
	Details map[string]any
}

func (c Check) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Details)+2)
	for k, v := range c.Details {
		out[k] = v
	}
	out["name"] = c.Name
	out["passed"] = c.Passed
	return json.Marshal(out)
}

func (c *Check) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name, _ := raw["name"].(string)
	if name == "" {
		return fmt.Errorf("check record missing name")
	}
	passed, _ := raw["passed"].(bool)
	delete(raw, "name")
	delete(raw, "passed")
	c.Name = name
	c.Passed = passed
	c.Details = nil
	if len(raw) > 0 {
		c.Details = raw
	}
	return nil
}

// Detail returns a numeric detail value if present.
func (c Check) Detail(key string) (float64, bool) {
	switch v := c.Details[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

type Verdict struct {
	TaskID    string           `json:"task_id"`
	Status    string           `json:"status" enum:"pass,fail,inconclusive"`
	Type      string           `json:"type"`
	Profile   string           `json:"profile"`
	Checks    []Check          `json:"checks"`
	Reasons   []string         `json:"reasons"`
	GateType  string           `json:"gate_type,omitempty"`
	Timestamp string           `json:"timestamp" format:"date-time"`
	PerUnit   []UnitResult     `json:"per_unit,omitempty"`
	Evidence  *VerdictEvidence `json:"evidence,omitempty"`
}

// UnitResult is an evaluator-provided per-unit outcome.
type UnitResult struct {
	UnitID   string `json:"unit_id"`
	UnitType string `json:"unit_type,omitempty"`
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// VerdictEvidence carries the loosely structured evidence some evaluators attach to a verdict.
type VerdictEvidence struct {
	Units          []UnitResult `json:"units,omitempty"`
	FilesChecked   []string     `json:"files_checked,omitempty"`
	URLsChecked    []string     `json:"urls_checked,omitempty"`
	FailedURLs     []string     `json:"failed_urls,omitempty"`
	FilesProcessed *int         `json:"files_processed,omitempty"`
	FilesTotal     *int         `json:"files_total,omitempty"`
	Coverage       *float64     `json:"coverage,omitempty"`
	LintErrors     *int         `json:"lint_errors,omitempty"`
	TestsPassed    *int         `json:"tests_passed,omitempty"`
	TestsFailed    *int         `json:"tests_failed,omitempty"`
}

type UnitRecord struct {
	TaskID    string `json:"task_id"`
	UnitID    string `json:"unit_id"`
	UnitType  string `json:"unit_type"`
	Claimed   bool   `json:"claimed"`
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

type MetricRecord struct {
	TaskID    string  `json:"task_id"`
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Session is the per-task summary row read by the dashboard.
type Session struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status" enum:"pass,fail,inconclusive"`
	Type          string `json:"type"`
	Profile       string `json:"profile"`
	GateType      string `json:"gate_type,omitempty"`
	UnitsClaimed  int    `json:"units_claimed"`
	UnitsVerified int    `json:"units_verified"`
	ChecksTotal   int    `json:"checks_total"`
	ChecksFailed  int    `json:"checks_failed"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	TaskID   string `json:"task_id,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
