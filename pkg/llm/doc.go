// Package llm is the resilient model client.
//
// A Client sends an ordered list of role-tagged messages to one endpoint
// picked from a pool and returns the reply text. Failed attempts are
// classified into an Outcome and fed to a single retry driver.
//
// Invariants:
//   - At most Config.MaxAttempts attempts are made per Chat call.
//   - The sleep before attempt n is (n mod budget) * BackoffStep, clamped
//     to [MinBackoff, MaxBackoff]. The first attempt never sleeps.
//   - The budget starts at RetryBudget and grows by one for each
//     rate-limit, server, connection or timeout failure after
//     BudgetGrowthAfter attempts.
//   - More than ServerErrorReset server errors in one call drop every
//     cached backend handle.
//   - Caller cancellation and unrecognised statuses are fatal.
//
// Usage:
//
//	client, err := llm.NewClient(llm.Config{
//		Sampling:  llm.DefaultConfig().Sampling,
//		Endpoints: llm.ParseModelSettings(os.Getenv("MODEL_SETTINGS")),
//	})
//	resp, err := client.Chat(ctx, llm.Request{Messages: msgs}, func(text string) error {
//		_, err := step.Parse(text)
//		return err
//	})
package llm
