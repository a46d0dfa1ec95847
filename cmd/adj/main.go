package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adjudicator/internal/app"
	"adjudicator/internal/capability"
	"adjudicator/internal/engine"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFail       = 1
	exitValidation = 2
	exitUnexpected = 3
)

// exitError carries an exit code. A nil err means the structured result was
// already printed and nothing else needs reporting.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, engine.ErrInvalidClaim), errors.Is(err, engine.ErrIntegrity):
		return exitValidation
	case errors.Is(err, engine.ErrInput), errors.Is(err, capability.ErrNoAdapter):
		return exitFail
	}
	return exitUnexpected
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "adj",
		Short: "Adjudicator evidence gate",
		Long: `Adjudicator decides whether a worker's claim is backed by evidence.
- Claim: what the worker says it did (claim.json). Measurements are forbidden here.
- Commitment: what was asked for (commitment.json).
- Artifacts: machine evidence produced by adapters, listed in an artifacts index.
- Profiles: named threshold bundles (profiles.yml) selected per task type.
- Verdict: pass, fail or inconclusive, with every check recorded (verdict.json).
- Store: normalized units, metrics and sessions in .adjudicator/adjudicator.db.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), viper.GetBool("verbose")))
			return nil
		},
	}
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	os.Exit(execute(newRootCmd()))
}

func initConfig() {
	viper.SetEnvPrefix("ADJUDICATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("profiles", "", "profiles file (default <workspace>/profiles.yml, else built-in)")
	root.PersistentFlags().String("db", "", "database path (default <workspace>/.adjudicator/adjudicator.db)")
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	root.PersistentFlags().String("server", "", "read from a dashboard API instead of the local store")
	root.PersistentFlags().String("token", "", "bearer token for --server")
	root.PersistentFlags().String("api-key", "", "API key for --server")
	for _, name := range []string{"workspace", "json", "profiles", "db", "verbose", "server", "token", "api-key"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(gateCmd())
	root.AddCommand(validateClaimCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(verifyIntegrityCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(capabilitiesCmd())
	root.AddCommand(checkArtifactsCmd())
	root.AddCommand(persistCmd())
	root.AddCommand(unitsCmd())
	root.AddCommand(metricsCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(apikeyCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(serveCmd())
}

// execute runs the command tree and maps the outcome to an exit code. Errors raised
// before a command starts running (bad flags, wrong arg count) are usage errors.
func execute(root *cobra.Command) int {
	started := false
	pre := root.PersistentPreRunE
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		started = true
		return pre(cmd, args)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	code := exitCode(err)
	if !started {
		code = exitFail
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(root.ErrOrStderr(), "error:", msg)
	}
	return code
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// --- helpers ---

func appOptions() app.Options {
	return app.Options{
		Workspace:    viper.GetString("workspace"),
		DBPath:       viper.GetString("db"),
		ProfilesPath: viper.GetString("profiles"),
		Logger:       slog.Default(),
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := app.Open(ctx, appOptions())
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func printJSONOrIndent(w io.Writer, v any) error {
	if viper.GetBool("json") {
		return printJSON(w, v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func compactJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
