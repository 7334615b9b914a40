package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	sessionsCleanBefore time.Duration
	sessionsShowJSON    bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session_id>",
	Short: "Show the stored messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session_id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete sessions created before a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClean,
}

func init() {
	sessionsShowCmd.Flags().BoolVar(&sessionsShowJSON, "json", false, "print messages as JSON")
	sessionsCleanCmd.Flags().DurationVar(&sessionsCleanBefore, "before", 7*24*time.Hour, "delete sessions older than this")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsCleanCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.sessions.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}

	for _, s := range sessions {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", s.ID, s.CreateTime.Format(time.RFC3339), truncate(s.Task, 60))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.sessions.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	messages, err := a.sessions.GetMessagesBySession(cmd.Context(), s.ID)
	if err != nil {
		return err
	}

	if sessionsShowJSON {
		data, err := json.MarshalIndent(messages, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\nCreated: %s\nTask: %s\n\n", s.ID, s.CreateTime.Format(time.RFC3339), s.Task)
	for i, m := range messages {
		fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s: %s\n", i, m.Role, m.Content)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sessions.DeleteSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func runSessionsClean(cmd *cobra.Command, args []string) error {
	if sessionsCleanBefore <= 0 {
		return fmt.Errorf("--before must be positive")
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.sessions.CleanSessions(cmd.Context(), sessionsCleanBefore)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d sessions older than %s\n", n, sessionsCleanBefore)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
