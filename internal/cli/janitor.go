package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/stepwise/pkg/archive"
	"github.com/spf13/cobra"
)

var (
	janitorSchedule string
	janitorBefore   time.Duration
	janitorOnce     bool
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Periodically clean old archived messages and sessions",
	Long: `Run archive and session cleanup on a cron schedule until interrupted.
Schedule and retention default to the archive section of the config.`,
	Args: cobra.NoArgs,
	RunE: runJanitor,
}

func init() {
	janitorCmd.Flags().StringVar(&janitorSchedule, "schedule", "", `cron schedule, e.g. "@every 1h" or "0 3 * * *"`)
	janitorCmd.Flags().DurationVar(&janitorBefore, "before", 0, "retention window (e.g. 168h)")
	janitorCmd.Flags().BoolVar(&janitorOnce, "once", false, "run one cleanup and exit")
	rootCmd.AddCommand(janitorCmd)
}

func runJanitor(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	schedule := firstNonEmpty(janitorSchedule, a.cfg.Archive.Schedule)
	retention := janitorBefore
	if retention <= 0 {
		retention = a.cfg.Retention()
	}

	janitor, err := archive.NewJanitor(archive.JanitorConfig{
		Schedule:  schedule,
		Retention: retention,
		Logger:    a.logger("janitor"),
	},
		archive.MessageCleaner(a.archive),
		archive.CleanerFunc{Label: "sessions", Fn: a.sessions.CleanSessions},
	)
	if err != nil {
		return err
	}

	if janitorOnce {
		counts := janitor.RunOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d archived messages and %d sessions\n", counts["archive"], counts["sessions"])
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := janitor.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Janitor running (%s, retention %s), next run at %s\n",
		schedule, retention, janitor.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	janitor.Stop()
	return nil
}
