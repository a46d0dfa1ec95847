package normalize

import "adjudicator/internal/domain"

// Metric keys written for every verdict that carries the underlying value.
const (
	MetricFilesProcessed = "files_processed"
	MetricFilesTotal     = "files_total"
	MetricCoverage       = "coverage"
	MetricLintErrors     = "lint_errors"
	MetricTestsPassed    = "tests_passed"
	MetricTestsFailed    = "tests_failed"
	MetricVerdictPass    = "verdict_pass"
)

// checkSource names the gate check detail used when evidence lacks a value.
type checkSource struct {
	check  string
	detail string
}

type metricSource struct {
	key      string
	evidence func(e *domain.VerdictEvidence) (float64, bool)
	fallback *checkSource
}

var metricSources = []metricSource{
	{
		key:      MetricFilesProcessed,
		evidence: func(e *domain.VerdictEvidence) (float64, bool) { return intValue(e.FilesProcessed) },
	},
	{
		key:      MetricFilesTotal,
		evidence: func(e *domain.VerdictEvidence) (float64, bool) { return intValue(e.FilesTotal) },
	},
	{
		key: MetricCoverage,
		evidence: func(e *domain.VerdictEvidence) (float64, bool) {
			if e.Coverage == nil {
				return 0, false
			}
			return *e.Coverage, true
		},
		fallback: &checkSource{check: "coverage_min", detail: "actual"},
	},
	{
		key:      MetricLintErrors,
		evidence: func(e *domain.VerdictEvidence) (float64, bool) { return intValue(e.LintErrors) },
		fallback: &checkSource{check: "lint_clean", detail: "errors"},
	},
	{
		key:      MetricTestsPassed,
		evidence: func(e *domain.VerdictEvidence) (float64, bool) { return intValue(e.TestsPassed) },
		fallback: &checkSource{check: "tests_pass", detail: "passed"},
	},
	{
		key:      MetricTestsFailed,
		evidence: func(e *domain.VerdictEvidence) (float64, bool) { return intValue(e.TestsFailed) },
		fallback: &checkSource{check: "tests_pass", detail: "failed"},
	},
}

func extractMetrics(v domain.Verdict, taskID, ts string) []domain.MetricRecord {
	var out []domain.MetricRecord
	add := func(key string, value float64) {
		out = append(out, domain.MetricRecord{TaskID: taskID, Key: key, Value: value, CreatedAt: ts})
	}
	for _, src := range metricSources {
		if v.Evidence != nil {
			if val, ok := src.evidence(v.Evidence); ok {
				add(src.key, val)
				continue
			}
		}
		if src.fallback == nil {
			continue
		}
		if val, ok := checkDetail(v.Checks, src.fallback.check, src.fallback.detail); ok {
			add(src.key, val)
		}
	}
	pass := 0.0
	if v.Status == domain.StatusPass {
		pass = 1
	}
	add(MetricVerdictPass, pass)
	return out
}

func checkDetail(checks []domain.Check, name, detail string) (float64, bool) {
	for _, c := range checks {
		if c.Name != name {
			continue
		}
		if val, ok := c.Detail(detail); ok {
			return val, true
		}
	}
	return 0, false
}

func intValue(p *int) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return float64(*p), true
}
