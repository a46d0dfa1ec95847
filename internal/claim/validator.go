// Package claim validates worker claim documents before they reach the gate.
//
// A claim may only state intent and scope. Anything that looks like a
// measurement is rejected, because measured facts must come from artifacts
// produced by adapters.
package claim

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"adjudicator/internal/domain"
)

// Result is the accumulated outcome of validating one claim document.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// forbiddenFields are measurement-sounding keys that must never appear in a claim.
var forbiddenFields = map[string]struct{}{
	"word_count":       {},
	"wordcount":        {},
	"words":            {},
	"total_words":      {},
	"coverage":         {},
	"coverage_pct":     {},
	"coverage_percent": {},
	"line_coverage":    {},
	"lint_errors":      {},
	"lint_warnings":    {},
	"lint_clean":       {},
	"error_count":      {},
	"warning_count":    {},
	"tests_passed":     {},
	"tests_failed":     {},
	"tests_total":      {},
	"test_count":       {},
	"tests_run":        {},
	"pass_rate":        {},
	"latency":          {},
	"latency_ms":       {},
	"p95_latency":      {},
	"p95_ms":           {},
	"response_time_ms": {},
	"build_status":     {},
	"build_passed":     {},
	"build_success":    {},
	"links_checked":    {},
	"links_broken":     {},
	"broken_links":     {},
	"status_codes":     {},
	"lines_added":      {},
	"lines_removed":    {},
	"files_changed":    {},
	"diff_stats":       {},
	"schema_valid":     {},
	"verified":         {},
	"verified_count":   {},
	"units_verified":   {},
}

// scopeExempt lists subtrees where names of things are expected and never scanned.
var scopeExempt = map[string]struct{}{
	"claim.scope.files":     {},
	"claim.scope.functions": {},
}

// ForbiddenFields returns the denylist in sorted order.
func ForbiddenFields() []string {
	out := make([]string, 0, len(forbiddenFields))
	for k := range forbiddenFields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ValidateFile reads and validates a claim file. A read or JSON error is returned
// as an error; every content problem is reported in the Result.
func ValidateFile(path string) (Result, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Result{}, nil, fmt.Errorf("parse claim %s: %w", path, err)
	}
	return Validate(doc), doc, nil
}

// Validate runs every structural check and the denylist scan, never stopping early.
func Validate(doc map[string]any) Result {
	v := &validation{}
	if doc == nil {
		v.errorf("claim document is empty")
		return v.result()
	}

	if tag, _ := doc["schema_version"].(string); tag != domain.ClaimSchemaVersion {
		v.errorf("schema_version must be %q, got %q", domain.ClaimSchemaVersion, fmt.Sprint(doc["schema_version"]))
	}
	for _, field := range []string{"actor", "task_id", "timestamp"} {
		if s, _ := doc[field].(string); strings.TrimSpace(s) == "" {
			v.errorf("%s is required", field)
		}
	}
	if ts, ok := doc["timestamp"].(string); ok && strings.TrimSpace(ts) != "" {
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			v.errorf("timestamp %q is not a valid RFC 3339 instant", ts)
		}
	}

	body, ok := doc["claim"].(map[string]any)
	if !ok {
		v.errorf("claim object is required")
	} else {
		v.checkBody(body)
	}

	v.scan("", doc)
	return v.result()
}

// Parse decodes a claim document into its typed form.
func Parse(doc map[string]any) (domain.Claim, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return domain.Claim{}, err
	}
	var c domain.Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Claim{}, fmt.Errorf("decode claim: %w", err)
	}
	return c, nil
}

type validation struct {
	errors   []string
	warnings []string
}

func (v *validation) errorf(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validation) warnf(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validation) result() Result {
	r := Result{Valid: len(v.errors) == 0, Errors: v.errors, Warnings: v.warnings}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	return r
}

func (v *validation) checkBody(body map[string]any) {
	if s, _ := body["type"].(string); strings.TrimSpace(s) == "" {
		v.errorf("claim.type is required")
	}

	total, totalOK := 0, false
	switch n := body["units_total"].(type) {
	case float64:
		if n != math.Trunc(n) || n < 0 {
			v.errorf("claim.units_total must be a non-negative integer, got %v", n)
		} else {
			total, totalOK = int(n), true
		}
	case nil:
		v.errorf("claim.units_total is required")
	default:
		v.errorf("claim.units_total must be numeric, got %T", n)
	}

	list, listOK := body["units_list"].([]any)
	if !listOK {
		v.errorf("claim.units_list must be an array")
	}
	if totalOK && listOK && total != len(list) {
		v.errorf("claim.units_total (%d) does not match units_list length (%d)", total, len(list))
	}
	if listOK {
		seen := map[string]struct{}{}
		for i, item := range list {
			s, isStr := item.(string)
			if !isStr {
				v.errorf("claim.units_list[%d] must be a string, got %T", i, item)
				continue
			}
			if _, dup := seen[s]; dup {
				v.warnf("claim.units_list contains duplicate unit %q", s)
			}
			seen[s] = struct{}{}
		}
	}

	scope, ok := body["scope"].(map[string]any)
	if !ok {
		v.errorf("claim.scope.repo_root is required")
	} else if s, _ := scope["repo_root"].(string); strings.TrimSpace(s) == "" {
		v.errorf("claim.scope.repo_root is required")
	}

	if declared, present := body["declared"]; present && declared != nil {
		if _, isObj := declared.(map[string]any); !isObj {
			v.warnf("claim.declared should be an object, got %T", declared)
		}
	}
}

// scan walks the document looking for denylisted keys, reporting the exact path of each hit.
func (v *validation) scan(path string, node any) {
	if _, exempt := scopeExempt[path]; exempt {
		return
	}
	switch n := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			if _, exempt := scopeExempt[child]; exempt {
				continue
			}
			if _, bad := forbiddenFields[strings.ToLower(k)]; bad {
				v.errorf("forbidden field %s: claims may not report measured facts", child)
			}
			v.scan(child, n[k])
		}
	case []any:
		for i, item := range n {
			v.scan(fmt.Sprintf("%s[%d]", path, i), item)
		}
	}
}
