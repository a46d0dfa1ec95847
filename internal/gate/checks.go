package gate

import (
	"fmt"
	"sort"
	"strings"

	"adjudicator/internal/domain"
)

func isCodeTask(t string) bool    { return t == "code" || strings.HasPrefix(t, "code_") }
func isContentTask(t string) bool { return t == "content" || strings.HasPrefix(t, "content_") }
func isAPITask(t string) bool     { return t == "api" || strings.HasPrefix(t, "api_") }

func checkUnitsCount(in Inputs, r *recorder) {
	expected := in.Commitment.Commitments.ExpectedTotal
	if expected == nil {
		return
	}
	actual := in.Claim.Claim.UnitsTotal
	r.record("units_count", actual >= *expected,
		map[string]any{"expected": *expected, "actual": actual},
		fmt.Sprintf("Claimed %d units but commitment expects %d", actual, *expected))
}

func checkRequiredArtifacts(in Inputs, r *recorder) {
	seen := map[string]struct{}{}
	for _, kind := range in.RequiredArtifacts {
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		r.record("required_artifact", in.Evidence.HasArtifact(kind),
			map[string]any{"artifact": kind},
			fmt.Sprintf("Required artifact missing: %s", kind))
	}
}

func checkLint(in Inputs, r *recorder) {
	lint := in.Evidence.Lint
	if !isCodeTask(in.TaskType()) || !in.Profile.LintEnabled() || lint == nil {
		return
	}
	r.record("lint_clean", lint.Errors == 0,
		map[string]any{"errors": lint.Errors, "warnings": lint.Warnings},
		fmt.Sprintf("Lint errors found: %d", lint.Errors))
}

func checkTests(in Inputs, r *recorder) {
	tests := in.Evidence.Tests
	if tests != nil {
		r.record("tests_pass", tests.Failed == 0,
			map[string]any{"passed": tests.Passed, "failed": tests.Failed, "total": tests.Total},
			fmt.Sprintf("Tests failed: %d of %d", tests.Failed, tests.Total))
	}
	if !in.Profile.TestsRequired {
		return
	}
	found := tests != nil && tests.Total > 0
	r.record("tests_required", found,
		map[string]any{"found": found},
		"Tests required but no test results found")
}

func checkCoverage(in Inputs, r *recorder) {
	cov := in.Evidence.Coverage
	min := in.Profile.CoverageMin
	if min <= 0 || cov == nil {
		return
	}
	r.record("coverage_min", cov.Percentage >= min,
		map[string]any{"actual": cov.Percentage, "minimum": min},
		fmt.Sprintf("Coverage %.1f%% is below minimum %.1f%%", cov.Percentage, min))
}

func checkWordMin(in Inputs, r *recorder) {
	scan := in.Evidence.Content
	if !isContentTask(in.TaskType()) || scan == nil {
		return
	}
	min := in.Profile.WordMin
	if wm := in.Commitment.Commitments.Quality.WordMin; wm != nil {
		min = *wm
	}
	if min <= 0 {
		return
	}
	files := append([]domain.ContentFile(nil), scan.Files...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	for _, f := range files {
		r.record("word_min", f.Words >= min,
			map[string]any{"file": f.Path, "words": f.Words, "minimum": min},
			fmt.Sprintf("File %s has %d words, minimum is %d", f.Path, f.Words, min))
	}
}

func checkLinkFailureRate(in Inputs, r *recorder) {
	links := in.Evidence.Links
	if links == nil || len(links.Results) == 0 {
		return
	}
	total := len(links.Results)
	failedURLs := []string{}
	for _, res := range links.Results {
		if !res.OK {
			failedURLs = append(failedURLs, res.URL)
		}
	}
	sort.Strings(failedURLs)
	rate := float64(len(failedURLs)) / float64(total)
	threshold := in.Profile.LinkFailureThreshold
	details := map[string]any{
		"failed":      len(failedURLs),
		"total":       total,
		"rate":        rate,
		"threshold":   threshold,
		"failed_urls": failedURLs,
	}
	if set := in.Evidence.URLSet; set != nil {
		details["requested"] = len(set.URLs)
	}
	r.record("link_failure_rate", rate <= threshold, details,
		fmt.Sprintf("Link failure rate %.1f%% exceeds threshold %.1f%% (%d of %d failed)",
			rate*100, threshold*100, len(failedURLs), total))
}

func checkAPI(in Inputs, r *recorder) {
	schema := in.Evidence.Schema
	required := in.Profile.SchemaRequired
	if !isAPITask(in.TaskType()) && !required && schema == nil {
		return
	}
	if schema == nil {
		if required {
			r.fail("api_schema_validation", map[string]any{"found": false},
				"API schema validation required but no results found")
			r.setGateType(domain.GateMissingEvidence)
		}
		return
	}
	errs := append([]string{}, schema.Errors...)
	r.record("api_schema_validation", schema.Valid,
		map[string]any{"errors": errs, "endpoints_checked": schema.EndpointsChecked},
		fmt.Sprintf("API schema validation failed: %s", summarizeList(errs, "no details")))
	if !schema.Valid {
		r.setGateType(domain.GateSchemaMismatch)
	}

	budget := in.Profile.LatencyBudgetMS
	if budget <= 0 || schema.LatencyP95MS == nil {
		return
	}
	p95 := *schema.LatencyP95MS
	r.record("api_latency_budget", p95 <= budget,
		map[string]any{"p95_ms": p95, "budget_ms": budget},
		fmt.Sprintf("API latency p95 %.0fms exceeds budget %.0fms", p95, budget))
}

func checkFunctionMapping(in Inputs, r *recorder) {
	fm := in.Evidence.FunctionMap
	if !isCodeTask(in.TaskType()) || fm == nil {
		return
	}
	reqs := in.Commitment.Requirements
	expected := len(reqs.Functions) + len(reqs.Endpoints)
	if claimed := countSymbolUnits(in.Claim.Claim.UnitsList); claimed > expected {
		expected = claimed
	}

	bar := in.Profile.FunctionCertaintyRequired
	if bar == "" {
		bar = domain.CertaintyFuzzy
	}
	certain, fuzzy := 0, 0
	for _, m := range fm.Matched {
		switch m.Certainty {
		case domain.CertaintyCertain:
			certain++
		case domain.CertaintyFuzzy:
			fuzzy++
		}
	}
	matched := certain
	if bar == domain.CertaintyFuzzy {
		matched += fuzzy
	}
	unmatched := append([]string{}, fm.UnmatchedClaims...)
	sort.Strings(unmatched)

	reason := fmt.Sprintf("Function mapping insufficient: %d of %d expected units matched at %s certainty", matched, expected, bar)
	if len(unmatched) > 0 {
		reason += "; unmatched: " + strings.Join(unmatched, ", ")
	}
	r.record("function_mapping", matched >= expected,
		map[string]any{
			"expected":           expected,
			"matched":            matched,
			"certain":            certain,
			"fuzzy":              fuzzy,
			"certainty_required": bar,
			"unmatched_claims":   unmatched,
		}, reason)
	if matched < expected {
		r.setGateType(domain.GateDiffMismatch)
	}

	if !in.Profile.RejectUnclaimedChanges {
		return
	}
	significant := []string{}
	for _, d := range fm.UnmatchedDiffs {
		if d.Significant {
			significant = append(significant, d.File)
		}
	}
	sort.Strings(significant)
	r.record("unclaimed_changes", len(significant) == 0,
		map[string]any{"files": significant},
		fmt.Sprintf("Unclaimed significant changes: %s", strings.Join(significant, ", ")))
	if len(significant) > 0 {
		r.setGateType(domain.GateDiffMismatch)
	}
}

func summarizeList(items []string, empty string) string {
	switch {
	case len(items) == 0:
		return empty
	case len(items) <= 3:
		return strings.Join(items, "; ")
	}
	return fmt.Sprintf("%s (and %d more)", strings.Join(items[:3], "; "), len(items)-3)
}
