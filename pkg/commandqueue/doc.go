// Package commandqueue serializes tool calls per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - A task enqueued with the RequestID of a running or completed task is
//   not run again. It waits for that task and shares its result, which
//   stays replayable until the dedup TTL expires.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Options{})
//	defer queue.Close()
//	out, err := queue.Enqueue(ctx, "session:abc", func(ctx context.Context) (string, error) {
//		return executor.Invoke(ctx, "sh", params), nil
//	}, nil)
package commandqueue
