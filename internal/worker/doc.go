// Package worker consumes jobs from the task-processing queue.
//
// A Dispatcher decodes each job by type and runs the matching handler;
// JobWorker hosts the dispatcher in an asynq server with bounded concurrency
// and per-type retry backoff. A handler error sends the job back for retry;
// a rejected result or an error wrapping asynq.SkipRetry is permanent.
package worker
