package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

var (
	runSessionID    string
	runMode         string
	runSystemPrompt string
	runInteractive  bool
	runStream       bool
	runDump         bool
	runMetricsAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Run an agent on a task",
	Long: `Run an agent until it produces a final answer.

The task is the joined arguments. A single argument naming a readable file is
replaced by the file content, and "-" reads the task from stdin.
Every run belongs to a session. Passing --session with an existing id resumes
that session with its stored messages.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id, generated when empty; an existing id is resumed")
	runCmd.Flags().StringVar(&runMode, "mode", "", "agent mode: react or plan-and-execute (default from config)")
	runCmd.Flags().StringVar(&runSystemPrompt, "system-prompt", "", "extra system prompt text, or a file path")
	runCmd.Flags().BoolVar(&runInteractive, "interactive", false, "ask the human when the model only thinks")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "stream model output to stdout")
	runCmd.Flags().BoolVar(&runDump, "dump-messages", false, "write the final message log to <data_dir>/dumps")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	task, err := readTask(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger("cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID, resume, err := prepareSession(ctx, a.sessions, runSessionID, task)
	if err != nil {
		return err
	}
	cmd.PrintErrf("session_id: %s\n", sessionID)

	if runMetricsAddr != "" {
		shutdown := serveMetrics(runMetricsAddr, func(err error) {
			logger.Error().Err(err).Str("addr", runMetricsAddr).Msg("Metrics server failed")
		})
		defer shutdown()
	}

	stack, err := a.buildAgent(runOptions{
		SessionID:    sessionID,
		Mode:         runMode,
		SystemPrompt: runSystemPrompt,
		Interactive:  runInteractive,
		Stream:       runStream,
		Dump:         runDump,
		Resume:       resume,
		Out:          cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer stack.Close()

	result, err := stack.runner.Run(ctx, task)
	if err != nil {
		return fmt.Errorf("agent run failed: %w", err)
	}
	if runStream {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	if !result.OK {
		if result.Text != "" {
			return fmt.Errorf("task failed: %s", result.Text)
		}
		return errors.New("task failed")
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	return nil
}

// readTask joins args into the task, reading it from a file or stdin when asked.
func readTask(stdin io.Reader, args []string) (string, error) {
	task := strings.Join(args, " ")
	switch {
	case task == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read task from stdin: %w", err)
		}
		task = string(data)
	case len(args) == 1:
		if info, err := os.Stat(task); err == nil && !info.IsDir() {
			data, err := os.ReadFile(task)
			if err != nil {
				return "", fmt.Errorf("failed to read task file: %w", err)
			}
			task = string(data)
		}
	}

	task = strings.TrimSpace(task)
	if task == "" {
		return "", errors.New("task is empty")
	}
	return task, nil
}

// prepareSession resumes an existing session or creates a new one for task.
func prepareSession(ctx context.Context, store *session.SQLiteStore, id, task string) (string, bool, error) {
	if id == "" {
		generated, err := gonanoid.New()
		if err != nil {
			return "", false, fmt.Errorf("failed to generate session id: %w", err)
		}
		id = generated
	}
	if err := session.ValidateID(id); err != nil {
		return "", false, err
	}

	exists, err := store.ExistsSession(ctx, id)
	if err != nil {
		return "", false, err
	}
	if exists {
		return id, true, nil
	}
	if err := store.CreateSession(ctx, session.Session{ID: id, Task: task}); err != nil {
		return "", false, err
	}
	return id, false, nil
}

// serveMetrics exposes the prometheus registry and returns a shutdown func.
func serveMetrics(addr string, onError func(error)) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onError(err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
