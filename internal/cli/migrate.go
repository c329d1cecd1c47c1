package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/ddl"
	"github.com/aqasim81/joke-server/internal/ledger"
	"github.com/aqasim81/joke-server/internal/migration"
	"github.com/aqasim81/joke-server/internal/schema"
)

var migrateCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply, roll back, and inspect schema migrations. Migrations are
bundled into the binary unless --migrations-dir points elsewhere.`,
}

var migrateLatestCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "latest",
	Short: "Apply all pending migrations as one batch",
	Args:  cobra.NoArgs,
	RunE:  runMigrateLatest,
}

var migrateRollbackCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "rollback",
	Short: "Roll back the most recent batches",
	Long: `Roll back whole batches, newest first. Within a batch migrations are
undone in reverse order.`,
	Args: cobra.NoArgs,
	RunE: runMigrateRollback,
}

var migrateStatusCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	migrateCmd.PersistentFlags().String("migrations-dir", "", "load migrations from this directory instead of the bundled set")

	migrateLatestCmd.Flags().Bool("dry-run", false, "show what would be applied without executing")
	migrateLatestCmd.Flags().Duration("lock-timeout", 0, "override lock timeout (e.g., 10s, 1m)")
	migrateLatestCmd.Flags().Duration("statement-timeout", 0, "override statement timeout (e.g., 30s, 5m)")

	migrateRollbackCmd.Flags().Int("steps", 1, "number of batches to roll back")
	migrateRollbackCmd.Flags().Bool("all", false, "roll back every batch")
	migrateRollbackCmd.Flags().Bool("dry-run", false, "show what would be rolled back without executing")
	migrateRollbackCmd.MarkFlagsMutuallyExclusive("steps", "all")

	migrateStatusCmd.Flags().String("format", "text", "output format (text, json)")

	migrateCmd.AddCommand(migrateLatestCmd, migrateRollbackCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrateLatest(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	lockTimeout := cfg.LockTimeout
	if cmd.Flags().Changed("lock-timeout") {
		lockTimeout, _ = cmd.Flags().GetDuration("lock-timeout")
	}

	stmtTimeout := cfg.StatementTimeout
	if cmd.Flags().Changed("statement-timeout") {
		stmtTimeout, _ = cmd.Flags().GetDuration("statement-timeout")
	}

	ms, err := loadMigrations(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	pool, err := connect(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer pool.Teardown()

	l := newLedger(pool, out,
		ledger.WithLockTimeout(lockTimeout),
		ledger.WithStatementTimeout(stmtTimeout),
		ledger.WithDryRun(dryRun),
	)

	if dryRun {
		fmt.Fprintln(out, "\n--- DRY RUN (no changes will be made) ---")
	}

	res, err := l.Apply(ctx, ms)
	if err != nil {
		return err
	}

	printResult(out, ledger.Up, res)

	return nil
}

func runMigrateRollback(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	steps, _ := cmd.Flags().GetInt("steps")
	if all, _ := cmd.Flags().GetBool("all"); all {
		steps = ledger.AllBatches
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ms, err := loadMigrations(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	pool, err := connect(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer pool.Teardown()

	l := newLedger(pool, out, ledger.WithDryRun(dryRun))

	res, err := l.Rollback(ctx, ms, steps)
	if err != nil {
		return err
	}

	printResult(out, ledger.Down, res)

	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}

	ms, err := loadMigrations(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	pool, err := connect(ctx, AppConfig, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer pool.Teardown()

	entries, err := ledger.New(pool, ledger.NewTracker(pool)).Status(ctx, ms)
	if err != nil {
		return err
	}

	return printStatus(cmd.OutOrStdout(), entries, format)
}

// loadMigrations returns the bundled migrations, or those in
// --migrations-dir when it is set.
func loadMigrations(cmd *cobra.Command) ([]migration.Migration, error) {
	dir, _ := cmd.Flags().GetString("migrations-dir")
	if dir == "" {
		return schema.Migrations()
	}

	ms, err := migration.LoadFromDir(dir)
	if err != nil {
		return nil, err
	}

	if err := migration.Validate(ms); err != nil {
		return nil, err
	}

	return ms, nil
}

func newLedger(pool *database.Pool, out io.Writer, opts ...ledger.Option) *ledger.Ledger {
	opts = append(opts, ledger.WithProgressCallback(progressPrinter(out)))

	return ledger.New(pool, ledger.NewTracker(pool), opts...)
}

// progressPrinter writes one line per migration as the ledger reports it.
func progressPrinter(out io.Writer) func(ledger.ProgressEvent) {
	return func(ev ledger.ProgressEvent) {
		verb := "Applying"
		if ev.Direction == ledger.Down {
			verb = "Rolling back"
		}

		switch ev.Status {
		case ledger.StatusStarting:
			fmt.Fprintf(out, "  %s %s ... ", verb, ev.Migration.Name())
		case ledger.StatusCompleted:
			fmt.Fprintf(out, "done (%s)\n", ev.Duration.Truncate(time.Millisecond))
		case ledger.StatusFailed:
			fmt.Fprintf(out, "FAILED\n")
			fmt.Fprintf(out, "    Error: %v\n", ev.Error)
		case ledger.StatusSkipped:
			fmt.Fprintf(out, "  Would %s %s (batch %d)%s\n", ev.Direction, ev.Migration.Name(), ev.Batch, describeObjects(ev))
		}
	}
}

// describeObjects lists the tables and indexes a skipped step would touch.
func describeObjects(ev ledger.ProgressEvent) string {
	sql := ev.Migration.UpSQL
	if ev.Direction == ledger.Down {
		sql = ev.Migration.DownSQL
	}

	summary, err := ddl.Inspect(sql)
	if err != nil {
		return ""
	}

	var parts []string
	for _, o := range summary.Creates {
		parts = append(parts, "create "+o.String())
	}

	for _, o := range summary.Drops {
		parts = append(parts, "drop "+o.String())
	}

	if len(parts) == 0 {
		return ""
	}

	return ": " + strings.Join(parts, ", ")
}

func printResult(out io.Writer, d ledger.Direction, res ledger.Result) {
	switch {
	case res.Batch == 0 && d == ledger.Up:
		fmt.Fprintln(out, "Already up to date.")
	case res.Batch == 0:
		fmt.Fprintln(out, "Nothing to roll back.")
	case res.DryRun:
		fmt.Fprintf(out, "\nDry run complete: %d migration(s) would %s (batch %d).\n", len(res.Names), d, res.Batch)
	case d == ledger.Up:
		fmt.Fprintf(out, "\nBatch %d run: %d migration(s) applied.\n", res.Batch, len(res.Names))
	default:
		fmt.Fprintf(out, "\nBatch %d rolled back: %d migration(s) undone.\n", res.Batch, len(res.Names))
	}
}

type statusJSON struct {
	Name      string     `json:"name"`
	State     string     `json:"state"`
	Batch     int        `json:"batch,omitempty"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Modified  bool       `json:"modified,omitempty"`
}

func printStatus(out io.Writer, entries []ledger.Entry, format string) error {
	if format == "json" {
		rows := make([]statusJSON, 0, len(entries))

		for _, e := range entries {
			row := statusJSON{Name: e.Name, State: string(e.State), Batch: e.Batch, Modified: e.Modified}
			if !e.AppliedAt.IsZero() {
				at := e.AppliedAt.UTC()
				row.AppliedAt = &at
			}

			rows = append(rows, row)
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(rows)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSTATE\tBATCH\tAPPLIED AT")

	for _, e := range entries {
		batch, at := "-", "-"
		if e.Batch > 0 {
			batch = fmt.Sprint(e.Batch)
		}

		if !e.AppliedAt.IsZero() {
			at = e.AppliedAt.UTC().Format(time.RFC3339)
		}

		state := string(e.State)
		if e.Modified {
			state += " (modified)"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, state, batch, at)
	}

	return tw.Flush()
}
