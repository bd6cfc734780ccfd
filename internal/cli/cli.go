// Package cli holds the wuctl command tree. wuctl is the operator tool and
// the cron entry point for the sweeper.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	dbfs "github.com/b0r1v0j3/workers-united/db"
	"github.com/b0r1v0j3/workers-united/internal/config"
	"github.com/b0r1v0j3/workers-united/internal/db"
	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/notify"
	"github.com/b0r1v0j3/workers-united/internal/repository/sqlite"
	"github.com/b0r1v0j3/workers-united/internal/sweeper"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	dbPath     string
	verbose    int
	jsonOut    bool
}

// env is what every subcommand works against.
type env struct {
	cfg    *config.Config
	conn   *db.DB
	store  *sqlite.SQLiteRepo
	engine *matching.Engine
	logger *slog.Logger
}

func (e *env) Close() error {
	return e.conn.Close()
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case o.verbose >= 2:
		level = slog.LevelDebug
	case o.verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.DatabasePath = o.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command, migrate bool) (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger := o.logger(cmd.ErrOrStderr())
	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.DatabasePath)
	}
	if migrate || cfg.MigrateOnStart {
		if err := db.Migrate(ctx, conn, dbfs.Migrations); err != nil {
			conn.Close()
			return nil, err
		}
	}

	store := sqlite.New(conn, logger)
	// Notifications are queued; the server's worker pool delivers them.
	notifier := notify.NewQueueNotifier(store, cfg.Jobs.MaxAttempts, logger)
	engine := matching.NewEngine(store, notifier, matching.Options{
		OfferTTL:      cfg.Matching.OfferTTL,
		RefundWindow:  cfg.Matching.RefundWindow,
		MinConfidence: cfg.Verify.MinConfidence,
		Logger:        logger,
	})

	return &env{cfg: cfg, conn: conn, store: store, engine: engine, logger: logger}, nil
}

// NewRootCmd builds the wuctl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "wuctl",
		Short: "Workers United operator tool",
		Long: `wuctl runs the offer engine's maintenance passes against the service database.

Examples:
  wuctl migrate                 # Apply pending migrations
  wuctl sweep --auto-match      # Expire offers, flag refunds, fill open jobs
  wuctl automatch 12            # Offer job request 12 to the queue
  wuctl queue --limit 20        # Show the head of the queue
  wuctl backup --out wu.db.bak  # Snapshot the database
  wuctl check-docs --name "Ana Jovanovic" passport=ana.jpg photo=ana.png`,
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config YAML file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Database path (overrides config)")
	root.PersistentFlags().CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (-v, -vv)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		newMigrateCmd(opts),
		newSweepCmd(opts),
		newAutoMatchCmd(opts),
		newQueueCmd(opts),
		newStatusCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(opts),
		newCheckDocsCmd(opts),
	)
	return root
}

// Execute runs wuctl and returns the process exit code.
func Execute(version string) int {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		return 1
	}
	return 0
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied to %s\n", e.cfg.DatabasePath)
			return nil
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var autoMatch bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue offers, reassign them and flag refunds",
		Long: `Run one sweep: pending offers past their deadline are expired and handed to
the next eligible candidate, then candidates queued longer than the refund
window are flagged for refund. Per-item failures are reported and do not stop
the run; the exit code is non-zero when any item failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			sw := sweeper.New(e.engine, e.store, sweeper.Options{Logger: e.logger})
			res := sw.Run(ctx)
			var sum *sweeper.MatchSummary
			if autoMatch {
				s := sw.AutoMatchOpen(ctx)
				sum = &s
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if err := printJSON(out, struct {
					sweeper.Result
					AutoMatch *sweeper.MatchSummary `json:"auto_match,omitempty"`
				}{res, sum}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "expired offers:  %d\nnew offers:      %d\nrefunds flagged: %d\n", res.ExpiredOffers, res.NewOffers, res.RefundsFlagged)
				if sum != nil {
					fmt.Fprintf(out, "auto-matched:    %d offers over %d jobs\n", sum.Matched, sum.Jobs)
				}
				for _, msg := range res.Errors {
					fmt.Fprintf(out, "error: %s\n", msg)
				}
			}

			if n := len(res.Errors); n > 0 {
				return errors.Newf("sweep finished with %d errors", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoMatch, "auto-match", false, "Auto-match open job requests after the sweep")
	return cmd
}

func newAutoMatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "automatch [job-request-id...]",
		Short: "Offer open positions to the head of the queue",
		Long:  "Auto-match the given job requests, or every open job request when no id is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil || id <= 0 {
					return errors.Newf("invalid job request id %q", a)
				}
				ids = append(ids, id)
			}

			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				sum := sweeper.New(e.engine, e.store, sweeper.Options{Logger: e.logger}).AutoMatchOpen(ctx)
				if opts.jsonOut {
					return printJSON(out, sum)
				}
				fmt.Fprintf(out, "%d offers over %d jobs\n", sum.Matched, sum.Jobs)
				for _, msg := range sum.Errors {
					fmt.Fprintf(out, "error: %s\n", msg)
				}
				return nil
			}

			results := make([]*matching.MatchResult, 0, len(ids))
			for _, id := range ids {
				res, err := e.engine.AutoMatch(ctx, id)
				if err != nil {
					return errors.Wrapf(err, "job request %d", id)
				}
				results = append(results, res)
			}
			if opts.jsonOut {
				return printJSON(out, results)
			}
			for _, res := range results {
				fmt.Fprintf(out, "job request %d: %d offers\n", res.JobRequestID, res.MatchedCount)
			}
			return nil
		},
	}
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued candidates in FIFO order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			list, total, err := e.engine.ListQueue(ctx, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, map[string]any{"candidates": list, "total": total})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POS\tID\tNAME\tJOINED\tREFUND DEADLINE")
			for _, c := range list {
				var pos int64
				if c.QueuePosition != nil {
					pos = *c.QueuePosition
				}
				joined, deadline := "-", "-"
				if c.QueueJoinedAt != nil {
					joined = c.QueueJoinedAt.UTC().Format("2006-01-02 15:04")
				}
				if c.RefundDeadline != nil {
					deadline = c.RefundDeadline.UTC().Format("2006-01-02")
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", pos, c.ID, c.FullName, joined, deadline)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d of %d queued\n", len(list), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

type status struct {
	Queued      int64 `json:"queued"`
	OpenJobs    int   `json:"open_jobs"`
	DeadLetters int64 `json:"dead_letters"`
	ExpiredDue  int   `json:"expired_offers_due"`
	RefundsDue  int   `json:"refunds_due"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, job and background-job counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			var st status
			if st.Queued, err = e.store.CountQueued(ctx); err != nil {
				return err
			}
			open, err := e.store.ListOpenJobRequests(ctx)
			if err != nil {
				return err
			}
			st.OpenJobs = len(open)
			if st.DeadLetters, err = e.store.CountDeadLetters(ctx); err != nil {
				return err
			}
			expired, err := e.engine.ListExpiredOffers(ctx)
			if err != nil {
				return err
			}
			st.ExpiredDue = len(expired)
			due, err := e.engine.ListRefundDue(ctx)
			if err != nil {
				return err
			}
			st.RefundsDue = len(due)

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "queued:              %d\nopen job requests:   %d\nexpired offers due:  %d\nrefunds due:         %d\ndead-letter jobs:    %d\n",
				st.Queued, st.OpenJobs, st.ExpiredDue, st.RefundsDue, st.DeadLetters)
			return nil
		},
	}
}
