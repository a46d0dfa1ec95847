// Package gate evaluates a claim against independently produced evidence.
//
// Evaluation runs a fixed, ordered battery of checks. Every applicable check
// runs; none short-circuits another. A verdict passes only when at least one
// check ran and none failed. With no applicable checks the verdict stays
// inconclusive.
package gate

import (
	"time"

	"adjudicator/internal/artifacts"
	"adjudicator/internal/config"
	"adjudicator/internal/domain"
)

// Inputs is everything a single evaluation consumes. Evaluate never reads the filesystem.
type Inputs struct {
	Commitment  domain.Commitment
	Claim       domain.Claim
	ProfileName string
	Profile     config.Profile
	// RequiredArtifacts comes from config.Config.RequiredArtifacts.
	RequiredArtifacts []string
	Evidence          artifacts.Evidence
	Now               func() time.Time
}

// TaskType returns the commitment's type, falling back to the claim's.
func (in Inputs) TaskType() string {
	if in.Commitment.Type != "" {
		return in.Commitment.Type
	}
	return in.Claim.Claim.Type
}

// TaskID returns the commitment's task id, falling back to the claim's.
func (in Inputs) TaskID() string {
	if in.Commitment.TaskID != "" {
		return in.Commitment.TaskID
	}
	return in.Claim.TaskID
}

type check func(in Inputs, r *recorder)

// battery is the fixed evaluation order.
var battery = []check{
	checkUnitsCount,
	checkRequiredArtifacts,
	checkLint,
	checkTests,
	checkCoverage,
	checkWordMin,
	checkLinkFailureRate,
	checkAPI,
	checkFunctionMapping,
}

// Evaluate runs the battery and returns the verdict.
func Evaluate(in Inputs) domain.Verdict {
	now := in.Now
	if now == nil {
		now = time.Now
	}
	r := &recorder{}
	for _, c := range battery {
		c(in, r)
	}
	v := domain.Verdict{
		TaskID:    in.TaskID(),
		Status:    domain.StatusInconclusive,
		Type:      in.TaskType(),
		Profile:   in.ProfileName,
		Checks:    r.checks,
		Reasons:   r.reasons,
		GateType:  r.gateType,
		Timestamp: now().UTC().Format(time.RFC3339),
	}
	if v.Checks == nil {
		v.Checks = []domain.Check{}
	}
	if v.Reasons == nil {
		v.Reasons = []string{}
	}
	switch {
	case r.failed:
		v.Status = domain.StatusFail
	case len(r.checks) > 0:
		v.Status = domain.StatusPass
	}
	return v
}

// recorder accumulates check records. The first gate type set is kept.
type recorder struct {
	checks   []domain.Check
	reasons  []string
	gateType string
	failed   bool
}

func (r *recorder) pass(name string, details map[string]any) {
	r.checks = append(r.checks, domain.Check{Name: name, Passed: true, Details: details})
}

func (r *recorder) fail(name string, details map[string]any, reason string) {
	r.checks = append(r.checks, domain.Check{Name: name, Passed: false, Details: details})
	r.reasons = append(r.reasons, reason)
	r.failed = true
}

func (r *recorder) record(name string, passed bool, details map[string]any, reason string) {
	if passed {
		r.pass(name, details)
		return
	}
	r.fail(name, details, reason)
}

func (r *recorder) setGateType(t string) {
	if r.gateType == "" {
		r.gateType = t
	}
}
