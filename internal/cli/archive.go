package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var archiveCleanBefore time.Duration

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and clean archived messages",
}

var archiveGetCmd = &cobra.Command{
	Use:   "get <msg_id>",
	Short: "Print an archived message",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveGet,
}

var archiveCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete archived messages not accessed since a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runArchiveClean,
}

func init() {
	archiveCleanCmd.Flags().DurationVar(&archiveCleanBefore, "before", 7*24*time.Hour, "delete messages not accessed within this window")

	archiveCmd.AddCommand(archiveGetCmd)
	archiveCmd.AddCommand(archiveCleanCmd)
	rootCmd.AddCommand(archiveCmd)
}

func runArchiveGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.archive.GetMessage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rec.Message)
	return nil
}

func runArchiveClean(cmd *cobra.Command, args []string) error {
	if archiveCleanBefore <= 0 {
		return fmt.Errorf("--before must be positive")
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.archive.CleanMessages(cmd.Context(), archiveCleanBefore)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d archived messages older than %s\n", n, archiveCleanBefore)
	return nil
}
