// Package scanner discovers overdue tasks on a cron schedule and enqueues one
// follow-up job per task under a deterministic dedupe key.
//
// Pages are read by offset while other components may be changing rows, so a
// task can be skipped or visited twice within one run. Skipped tasks are found
// by the next run; revisits coalesce on the dedupe key.
package scanner
