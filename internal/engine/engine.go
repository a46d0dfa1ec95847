package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"adjudicator/internal/artifacts"
	"adjudicator/internal/claim"
	"adjudicator/internal/config"
	"adjudicator/internal/domain"
	"adjudicator/internal/events"
	"adjudicator/internal/gate"
	"adjudicator/internal/normalize"
	"adjudicator/internal/repo"
)

var (
	// ErrInput marks missing or unreadable mandatory inputs.
	ErrInput = errors.New("invalid input")
	// ErrInvalidClaim is returned when the claim fails validation.
	ErrInvalidClaim = errors.New("claim failed validation")
	// ErrIntegrity is returned when the evidence on disk no longer matches the
	// recorded index or checksum manifest.
	ErrIntegrity = errors.New("evidence failed integrity check")
	// ErrNoStore is returned by operations that need the database when none is open.
	ErrNoStore = errors.New("store not configured")
)

// Engine wires evaluation and persistence. DB may be nil for evaluation-only use.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// EvaluateOptions tune a single gate run.
type EvaluateOptions struct {
	// Profile overrides the commitment and task type profile.
	Profile string
	// WriteVerdict writes verdict.json into the task directory.
	WriteVerdict bool
	// Persist normalizes and stores the verdict.
	Persist bool
	ActorID string
}

// Evaluation is the outcome of one gate run.
type Evaluation struct {
	TaskDir     string
	Verdict     domain.Verdict
	ClaimResult claim.Result
	Integrity   artifacts.IntegrityReport
	Commitment  domain.Commitment
	Claim       domain.Claim
	VerdictPath string
	Warnings    []string
	Outcome     *normalize.Outcome
}

// TaskInputs are the documents read from a task directory before evaluation.
type TaskInputs struct {
	Commitment  domain.Commitment
	Claim       domain.Claim
	ClaimResult claim.Result
	Warnings    []string
}

// LoadTaskInputs reads claim.json (mandatory) and commitment.json (optional).
// A claim that fails validation returns ErrInvalidClaim with the result filled in.
func LoadTaskInputs(taskDir string) (TaskInputs, error) {
	var in TaskInputs
	res, doc, err := claim.ValidateFile(filepath.Join(taskDir, config.ClaimFile))
	if err != nil {
		return in, fmt.Errorf("%w: %v", ErrInput, err)
	}
	in.ClaimResult = res
	if !res.Valid {
		return in, ErrInvalidClaim
	}
	c, err := claim.Parse(doc)
	if err != nil {
		return in, fmt.Errorf("%w: %v", ErrInput, err)
	}
	in.Claim = c
	in.Warnings = append(in.Warnings, res.Warnings...)

	data, err := os.ReadFile(filepath.Join(taskDir, config.CommitmentFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		in.Warnings = append(in.Warnings, "commitment.json not found; evaluating against the claim alone")
	case err != nil:
		return in, fmt.Errorf("%w: read commitment: %v", ErrInput, err)
	default:
		if err := json.Unmarshal(data, &in.Commitment); err != nil {
			return in, fmt.Errorf("%w: parse commitment: %v", ErrInput, err)
		}
	}
	return in, nil
}

// EvaluateIndex runs the gate for the task described by an artifacts index.
func (e Engine) EvaluateIndex(ctx context.Context, indexPath string, opts EvaluateOptions) (Evaluation, error) {
	recorded, err := artifacts.LoadIndex(indexPath)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrInput, err)
	}
	idx, report, err := artifacts.Recheck(recorded, artifacts.WithLogger(e.log()), artifacts.WithClock(e.now))
	if err != nil {
		return Evaluation{TaskDir: recorded.TaskDir}, fmt.Errorf("%w: %v", ErrInput, err)
	}
	ev := Evaluation{TaskDir: idx.TaskDir, Integrity: report}
	if !report.OK {
		e.log().Warn("evidence integrity check failed", "task_dir", idx.TaskDir, "failures", len(report.Failures))
		return ev, fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(report.Failures, "; "))
	}

	in, err := LoadTaskInputs(idx.TaskDir)
	ev.ClaimResult = in.ClaimResult
	if err != nil {
		return ev, err
	}
	ev.Commitment, ev.Claim = in.Commitment, in.Claim
	ev.Warnings = append(ev.Warnings, in.Warnings...)

	cfg := e.config()
	gi := gate.Inputs{Commitment: in.Commitment, Claim: in.Claim, Now: e.now}
	requested := opts.Profile
	if requested == "" {
		requested = in.Commitment.ProfileName
	}
	name, profile, err := cfg.ResolveProfile(gi.TaskType(), requested)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInput, err)
	}
	gi.ProfileName, gi.Profile = name, profile
	gi.RequiredArtifacts = cfg.RequiredArtifacts(gi.TaskType(), name)
	gi.Evidence = artifacts.LoadEvidence(idx, e.log())
	ev.Warnings = append(ev.Warnings, gi.Evidence.Warnings...)

	ev.Verdict = gate.Evaluate(gi)
	e.log().Info("gate evaluated",
		"task_id", ev.Verdict.TaskID,
		"status", ev.Verdict.Status,
		"profile", name,
		"checks", len(ev.Verdict.Checks),
		"gate_type", ev.Verdict.GateType)

	if opts.WriteVerdict {
		path, err := WriteVerdict(idx.TaskDir, ev.Verdict)
		if err != nil {
			return ev, err
		}
		ev.VerdictPath = path
	}
	if opts.Persist {
		out, err := e.Persist(ctx, ev.Verdict, in.Claim, opts.ActorID)
		if err != nil {
			return ev, err
		}
		ev.Outcome = &out
	}
	return ev, nil
}

// WriteVerdict writes <taskDir>/verdict.json via a temp file and rename.
func WriteVerdict(taskDir string, v domain.Verdict) (string, error) {
	path := filepath.Join(taskDir, config.VerdictFile)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, os.Rename(tmp, path)
}

// ReadVerdict loads a verdict written by the gate or by an external evaluator.
func ReadVerdict(path string) (domain.Verdict, error) {
	var v domain.Verdict
	data, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInput, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: parse verdict %s: %v", ErrInput, path, err)
	}
	switch v.Status {
	case domain.StatusPass, domain.StatusFail, domain.StatusInconclusive:
	default:
		return v, fmt.Errorf("%w: verdict %s has unknown status %q", ErrInput, path, v.Status)
	}
	return v, nil
}

// Persist normalizes a verdict and stores units, metrics, the session row and the
// audit events in one transaction scoped to the verdict's task.
func (e Engine) Persist(ctx context.Context, v domain.Verdict, c domain.Claim, actorID string) (normalize.Outcome, error) {
	if e.DB == nil {
		return normalize.Outcome{}, ErrNoStore
	}
	out := normalize.Normalize(v, c, e.now())
	if out.TaskID == "" {
		return out, fmt.Errorf("%w: verdict has no task_id", ErrInput)
	}
	if actorID == "" {
		actorID = c.Actor
	}
	if actorID == "" {
		actorID = "adjudicator"
	}
	runID := uuid.NewString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertUnits(ctx, tx, out.Units); err != nil {
		return out, err
	}
	if err := e.Repo.AppendMetrics(ctx, tx, out.Metrics); err != nil {
		return out, err
	}
	if err := e.Repo.UpsertSession(ctx, tx, out.Session); err != nil {
		return out, fmt.Errorf("upsert session: %w", err)
	}
	w := e.Events
	w.Now = e.now
	if err := w.Append(ctx, tx, events.TypeGateEvaluated, out.TaskID, runID, actorID, events.EventPayload{
		"status":    v.Status,
		"profile":   v.Profile,
		"gate_type": v.GateType,
		"reasons":   v.Reasons,
	}); err != nil {
		return out, err
	}
	if err := w.Append(ctx, tx, events.TypeVerdictPersisted, out.TaskID, runID, actorID, events.EventPayload{
		"strategy": out.Strategy,
		"units":    len(out.Units),
		"metrics":  len(out.Metrics),
	}); err != nil {
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}
	e.log().Info("verdict persisted",
		"task_id", out.TaskID,
		"run_id", runID,
		"strategy", out.Strategy,
		"units", len(out.Units))
	return out, nil
}

// PersistTask stores the verdict.json found in a task directory, whoever wrote it.
func (e Engine) PersistTask(ctx context.Context, taskDir, actorID string) (normalize.Outcome, error) {
	v, err := ReadVerdict(filepath.Join(taskDir, config.VerdictFile))
	if err != nil {
		return normalize.Outcome{}, err
	}
	in, err := LoadTaskInputs(taskDir)
	if err != nil {
		return normalize.Outcome{}, err
	}
	return e.Persist(ctx, v, in.Claim, actorID)
}

// ArtifactCheck is the CI-path view of the required-artifact policy.
type ArtifactCheck struct {
	TaskID   string   `json:"task_id"`
	TaskType string   `json:"task_type"`
	Profile  string   `json:"profile"`
	Required []string `json:"required"`
	Present  []string `json:"present"`
	Missing  []string `json:"missing"`
}

// OK reports whether every required artifact is present.
func (a ArtifactCheck) OK() bool { return len(a.Missing) == 0 }

// CheckArtifacts indexes a task directory and applies the same required-artifact
// table the gate uses.
func (e Engine) CheckArtifacts(taskDir, profile string) (ArtifactCheck, error) {
	idx, err := artifacts.NewIndexer(artifacts.WithLogger(e.log()), artifacts.WithClock(e.now)).Index(taskDir)
	if err != nil {
		return ArtifactCheck{}, fmt.Errorf("%w: %v", ErrInput, err)
	}
	in, err := LoadTaskInputs(idx.TaskDir)
	if err != nil {
		return ArtifactCheck{}, err
	}
	gi := gate.Inputs{Commitment: in.Commitment, Claim: in.Claim}
	if profile == "" {
		profile = in.Commitment.ProfileName
	}
	cfg := e.config()
	name, _, err := cfg.ResolveProfile(gi.TaskType(), profile)
	if err != nil {
		return ArtifactCheck{}, fmt.Errorf("%w: %v", ErrInput, err)
	}
	required := cfg.RequiredArtifacts(gi.TaskType(), name)
	missing := artifacts.MissingArtifacts(idx, required)
	if missing == nil {
		missing = []string{}
	}
	if required == nil {
		required = []string{}
	}
	return ArtifactCheck{
		TaskID:   gi.TaskID(),
		TaskType: gi.TaskType(),
		Profile:  name,
		Required: required,
		Present:  artifacts.LoadEvidence(idx, e.log()).PresentTypes(),
		Missing:  missing,
	}, nil
}
