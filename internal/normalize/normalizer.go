// Package normalize turns a verdict into canonical unit and metric records.
//
// Evaluators attach evidence in different shapes. Normalize picks the richest
// shape available using an ordered list of strategies, so the store always ends
// up with one record per unit regardless of who produced the verdict.
package normalize

import (
	"time"

	"adjudicator/internal/domain"
)

// Strategy names, in priority order.
const (
	StrategyPerUnit      = "per_unit"
	StrategyEvidenceUnit = "evidence.units"
	StrategyFilesChecked = "evidence.files_checked"
	StrategyURLsChecked  = "evidence.urls_checked"
	StrategyFallback     = "fallback"
)

// Outcome is what gets persisted for one verdict.
type Outcome struct {
	TaskID   string
	Strategy string
	Units    []domain.UnitRecord
	Metrics  []domain.MetricRecord
	Session  domain.Session
}

type strategy struct {
	name    string
	applies func(v domain.Verdict) bool
	extract func(v domain.Verdict, c domain.Claim) []domain.UnitRecord
}

// strategies is consulted top to bottom; the first that applies is used exclusively.
var strategies = []strategy{
	{
		name:    StrategyPerUnit,
		applies: func(v domain.Verdict) bool { return len(v.PerUnit) > 0 },
		extract: func(v domain.Verdict, c domain.Claim) []domain.UnitRecord {
			return fromResults(v.PerUnit, v, c)
		},
	},
	{
		name:    StrategyEvidenceUnit,
		applies: func(v domain.Verdict) bool { return v.Evidence != nil && len(v.Evidence.Units) > 0 },
		extract: func(v domain.Verdict, c domain.Claim) []domain.UnitRecord {
			return fromResults(v.Evidence.Units, v, c)
		},
	},
	{
		name:    StrategyFilesChecked,
		applies: func(v domain.Verdict) bool { return v.Evidence != nil && len(v.Evidence.FilesChecked) > 0 },
		extract: func(v domain.Verdict, c domain.Claim) []domain.UnitRecord {
			results := make([]domain.UnitResult, 0, len(v.Evidence.FilesChecked))
			for _, f := range v.Evidence.FilesChecked {
				results = append(results, domain.UnitResult{UnitID: f, UnitType: "file", Verified: true})
			}
			return fromResults(results, v, c)
		},
	},
	{
		name:    StrategyURLsChecked,
		applies: func(v domain.Verdict) bool { return v.Evidence != nil && len(v.Evidence.URLsChecked) > 0 },
		extract: func(v domain.Verdict, c domain.Claim) []domain.UnitRecord {
			failed := make(map[string]struct{}, len(v.Evidence.FailedURLs))
			for _, u := range v.Evidence.FailedURLs {
				failed[u] = struct{}{}
			}
			results := make([]domain.UnitResult, 0, len(v.Evidence.URLsChecked))
			for _, u := range v.Evidence.URLsChecked {
				r := domain.UnitResult{UnitID: u, UnitType: "url", Verified: true}
				if _, bad := failed[u]; bad {
					r.Verified = false
					r.Reason = "link check failed"
				}
				results = append(results, r)
			}
			return fromResults(results, v, c)
		},
	},
	{
		name:    StrategyFallback,
		applies: func(domain.Verdict) bool { return true },
		extract: func(v domain.Verdict, c domain.Claim) []domain.UnitRecord {
			passed := v.Status == domain.StatusPass
			reason := ""
			if !passed {
				reason = "verdict " + v.Status
			}
			results := make([]domain.UnitResult, 0, len(c.Claim.UnitsList))
			for _, u := range c.Claim.UnitsList {
				results = append(results, domain.UnitResult{UnitID: u, Verified: passed, Reason: reason})
			}
			return fromResults(results, v, c)
		},
	},
}

// Normalize converts a verdict and its originating claim into records stamped with at.
func Normalize(v domain.Verdict, c domain.Claim, at time.Time) Outcome {
	ts := at.UTC().Format(time.RFC3339)
	taskID := v.TaskID
	if taskID == "" {
		taskID = c.TaskID
	}
	out := Outcome{TaskID: taskID}
	for _, s := range strategies {
		if !s.applies(v) {
			continue
		}
		out.Strategy = s.name
		out.Units = s.extract(v, c)
		break
	}
	for i := range out.Units {
		out.Units[i].TaskID = taskID
		out.Units[i].CreatedAt = ts
	}
	out.Metrics = extractMetrics(v, taskID, ts)
	out.Session = summarize(v, taskID, out.Units, ts)
	return out
}

// fromResults builds unit records, keeping the last result for a repeated unit id
// at the position of its first occurrence.
func fromResults(results []domain.UnitResult, v domain.Verdict, c domain.Claim) []domain.UnitRecord {
	claimed := make(map[string]struct{}, len(c.Claim.UnitsList))
	for _, u := range c.Claim.UnitsList {
		claimed[u] = struct{}{}
	}
	defaultType := c.Claim.Type
	if defaultType == "" {
		defaultType = v.Type
	}
	pos := map[string]int{}
	var out []domain.UnitRecord
	for _, r := range results {
		if r.UnitID == "" {
			continue
		}
		rec := domain.UnitRecord{
			UnitID:   r.UnitID,
			UnitType: r.UnitType,
			Verified: r.Verified,
			Reason:   r.Reason,
		}
		if rec.UnitType == "" {
			rec.UnitType = defaultType
		}
		_, rec.Claimed = claimed[r.UnitID]
		if i, seen := pos[r.UnitID]; seen {
			out[i] = rec
			continue
		}
		pos[r.UnitID] = len(out)
		out = append(out, rec)
	}
	if out == nil {
		out = []domain.UnitRecord{}
	}
	return out
}

func summarize(v domain.Verdict, taskID string, units []domain.UnitRecord, ts string) domain.Session {
	s := domain.Session{
		TaskID:      taskID,
		Status:      v.Status,
		Type:        v.Type,
		Profile:     v.Profile,
		GateType:    v.GateType,
		ChecksTotal: len(v.Checks),
		UpdatedAt:   ts,
	}
	for _, c := range v.Checks {
		if !c.Passed {
			s.ChecksFailed++
		}
	}
	for _, u := range units {
		if u.Claimed {
			s.UnitsClaimed++
		}
		if u.Verified {
			s.UnitsVerified++
		}
	}
	return s
}
