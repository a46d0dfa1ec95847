package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adjudicator/internal/app"
	"adjudicator/internal/artifacts"
	"adjudicator/internal/capability"
	"adjudicator/internal/claim"
	"adjudicator/internal/config"
	"adjudicator/internal/domain"
	"adjudicator/internal/engine"
)

func gateCmd() *cobra.Command {
	var profile, actorID string
	var dryRun, persist, noWrite bool
	cmd := &cobra.Command{
		Use:   "gate <artifacts-index>",
		Short: "Evaluate a task's evidence and issue a verdict",
		Long: `Gate reads the artifacts index, the claim and commitment next to it, resolves a profile
and runs every applicable check. The verdict is printed and written to verdict.json.
Evidence that changed since it was indexed is rejected with exit 2 and no verdict.
A failing or inconclusive verdict exits 1 unless --dry-run is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.EvaluateOptions{
				Profile:      profile,
				WriteVerdict: !noWrite,
				Persist:      persist,
				ActorID:      actorID,
			}
			run := func(ctx context.Context, e engine.Engine) error {
				ev, err := e.EvaluateIndex(ctx, args[0], opts)
				if errors.Is(err, engine.ErrInvalidClaim) {
					if perr := printClaimResult(cmd.OutOrStdout(), ev.ClaimResult); perr != nil {
						return perr
					}
					return &exitError{code: exitValidation}
				}
				if errors.Is(err, engine.ErrIntegrity) {
					if perr := printIntegrity(cmd.OutOrStdout(), ev.Integrity); perr != nil {
						return perr
					}
					return &exitError{code: exitValidation, err: err}
				}
				if err != nil {
					return err
				}
				for _, w := range ev.Warnings {
					slog.Warn("evaluation warning", "task_id", ev.Verdict.TaskID, "warning", w)
				}
				if err := printVerdict(cmd.OutOrStdout(), ev); err != nil {
					return err
				}
				if ev.Verdict.Status != domain.StatusPass && !dryRun {
					return &exitError{code: exitFail}
				}
				return nil
			}
			if persist {
				return withEngine(cmd.Context(), run)
			}
			e, err := app.Evaluator(appOptions())
			if err != nil {
				return err
			}
			return run(cmd.Context(), e)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "profile name (overrides commitment and task type)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "exit 0 even when the verdict is not pass")
	cmd.Flags().BoolVar(&persist, "persist", false, "normalize and store the verdict")
	cmd.Flags().BoolVar(&noWrite, "no-write", false, "do not write verdict.json")
	cmd.Flags().StringVar(&actorID, "actor-id", "", "actor recorded on persisted events (default claim actor)")
	return cmd
}

func printIntegrity(w io.Writer, report artifacts.IntegrityReport) error {
	if viper.GetBool("json") {
		return printJSON(w, report)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Path", "OK", "Reason"})
	for _, f := range report.Files {
		tw.AppendRow(table.Row{f.Path, yesNo(f.OK), f.Reason})
	}
	tw.Render()
	return nil
}

func printVerdict(w io.Writer, ev engine.Evaluation) error {
	v := ev.Verdict
	if viper.GetBool("json") {
		return printJSON(w, v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Check", "Passed", "Details"})
	for _, c := range v.Checks {
		tw.AppendRow(table.Row{c.Name, yesNo(c.Passed), compactJSON(c.Details)})
	}
	tw.Render()
	fmt.Fprintf(w, "task: %s  type: %s  profile: %s\n", v.TaskID, v.Type, v.Profile)
	status := strings.ToUpper(v.Status)
	if v.GateType != "" {
		status += " (" + v.GateType + ")"
	}
	fmt.Fprintf(w, "verdict: %s\n", status)
	for _, r := range v.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	if ev.VerdictPath != "" {
		fmt.Fprintf(w, "written: %s\n", ev.VerdictPath)
	}
	if ev.Outcome != nil {
		fmt.Fprintf(w, "persisted: %d units, %d metrics (%s)\n", len(ev.Outcome.Units), len(ev.Outcome.Metrics), ev.Outcome.Strategy)
	}
	return nil
}

func validateClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-claim <claim.json>",
		Short: "Validate a claim document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := claim.ValidateFile(args[0])
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrInput, err)
			}
			if err := printClaimResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return &exitError{code: exitValidation}
			}
			return nil
		},
	}
}

func printClaimResult(w io.Writer, res claim.Result) error {
	if viper.GetBool("json") {
		return printJSON(w, res)
	}
	if res.Valid {
		fmt.Fprintln(w, "claim valid")
	} else {
		fmt.Fprintln(w, "claim invalid")
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	return nil
}

func indexCmd() *cobra.Command {
	var write, checksums bool
	cmd := &cobra.Command{
		Use:   "index <task-dir>",
		Short: "Index a task directory and print the artifacts index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			idx, err := artifacts.NewIndexer(artifacts.WithLogger(slog.Default())).Index(dir)
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrInput, err)
			}
			if checksums {
				path, err := artifacts.WriteChecksums(dir, idx)
				if err != nil {
					return err
				}
				slog.Info("checksums written", "path", path, "files", len(idx.Artifacts))
			}
			if write {
				path, err := artifacts.WriteIndex(dir, idx)
				if err != nil {
					return err
				}
				slog.Info("index written", "path", path)
			}
			return printJSON(cmd.OutOrStdout(), idx)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write "+config.IndexFile+" into the task directory")
	cmd.Flags().BoolVar(&checksums, "checksums", false, "write "+config.ChecksumsFile+" from the indexed files")
	return cmd
}

func verifyIntegrityCmd() *cobra.Command {
	var indexPath string
	cmd := &cobra.Command{
		Use:   "verify-integrity <task-dir>",
		Short: "Check recorded checksums against file contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if indexPath == "" {
				candidate := filepath.Join(dir, config.IndexFile)
				if _, err := os.Stat(candidate); err == nil {
					indexPath = candidate
				}
			}
			var idx *domain.ArtifactIndex
			if indexPath != "" {
				loaded, err := artifacts.LoadIndex(indexPath)
				if err != nil {
					return fmt.Errorf("%w: %v", engine.ErrInput, err)
				}
				idx = &loaded
			}
			report, err := artifacts.VerifyIntegrity(dir, idx)
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrInput, err)
			}
			out := cmd.OutOrStdout()
			if report.Skipped && !viper.GetBool("json") {
				fmt.Fprintf(out, "no %s; nothing to verify\n", config.ChecksumsFile)
			} else if err := printIntegrity(out, report); err != nil {
				return err
			}
			if !report.OK {
				return &exitError{code: exitValidation}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&indexPath, "index", "", "artifacts index to cross-check (default <task-dir>/"+config.IndexFile+" if present)")
	return cmd
}

func resolveCmd() *cobra.Command {
	var adapters string
	var prefer []string
	cmd := &cobra.Command{
		Use:   "resolve <capability>",
		Short: "Print the adapter entrypoint serving a capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := capability.Scan(adapters, capability.WithPriority(prefer...), capability.WithLogger(slog.Default()))
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrInput, err)
			}
			b, ok := reg.Lookup(args[0])
			if !ok {
				_, err := reg.Resolve(args[0])
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.Entry)
			return nil
		},
	}
	cmd.Flags().StringVar(&adapters, "adapters", "adapters", "adapters directory")
	cmd.Flags().StringSliceVar(&prefer, "prefer", nil, "adapter names that win ties, highest first")
	return cmd
}

func capabilitiesCmd() *cobra.Command {
	var adapters string
	var prefer []string
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "List every capability binding and skipped adapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := capability.Scan(adapters, capability.WithPriority(prefer...), capability.WithLogger(slog.Default()))
			if err != nil {
				return fmt.Errorf("%w: %v", engine.ErrInput, err)
			}
			out := cmd.OutOrStdout()
			if viper.GetBool("json") {
				return printJSON(out, map[string]any{"bindings": reg.Bindings(), "skipped": reg.Skipped()})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Capability", "Adapter", "Entry"})
			for _, b := range reg.Bindings() {
				tw.AppendRow(table.Row{b.Capability, b.Adapter, b.Entry})
			}
			tw.Render()
			for _, s := range reg.Skipped() {
				fmt.Fprintf(out, "skipped %s: %s\n", s.Adapter, s.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adapters, "adapters", "adapters", "adapters directory")
	cmd.Flags().StringSliceVar(&prefer, "prefer", nil, "adapter names that win ties, highest first")
	return cmd
}

func checkArtifactsCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "check-artifacts <task-dir>",
		Short: "Fail when a task directory lacks the artifacts its profile requires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.Evaluator(appOptions())
			if err != nil {
				return err
			}
			res, err := e.CheckArtifacts(args[0], profile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if viper.GetBool("json") {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "task: %s  type: %s  profile: %s\n", res.TaskID, res.TaskType, res.Profile)
				fmt.Fprintf(out, "required: %s\n", strings.Join(res.Required, ", "))
				fmt.Fprintf(out, "present:  %s\n", strings.Join(res.Present, ", "))
				if res.OK() {
					fmt.Fprintln(out, "all required artifacts present")
				} else {
					fmt.Fprintf(out, "missing:  %s\n", strings.Join(res.Missing, ", "))
				}
			}
			if !res.OK() {
				return &exitError{code: exitValidation}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "profile name")
	return cmd
}
