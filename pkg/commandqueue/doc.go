// Package commandqueue runs tasks in named lanes with a per-lane concurrency cap.
//
// Invariants:
// - Tasks in the same lane start in FIFO order.
// - At most the lane's concurrency tasks of one lane run at once; new lanes
//   run one task at a time.
// - Tasks in different lanes may execute concurrently.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	queue.SetConcurrency("multitasks", 10)
//	result, err := queue.Enqueue(ctx, "session-abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	})
package commandqueue
