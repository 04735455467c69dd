// Package service contains the task use cases. It coordinates the task store
// and the job queue so that one client mutation is one logical operation.
//
// Every mutation follows the same shape:
//
//  1. Validate input and reject it before touching the database.
//  2. Run the store writes in one transaction (store.RunInTransaction),
//     reading rows FOR UPDATE when the write depends on their state.
//  3. After commit, enqueue follow-up jobs. Enqueue failures are logged and
//     never reported to the caller; the committed write stands and the
//     overdue scanner rediscovers anything that still matters.
//
// Errors that callers are expected to branch on are sentinels (ErrTaskNotFound,
// ErrInvalidArgument, domain.ErrValidation) and pass through unwrapped;
// anything unexpected is wrapped in a *TaskServiceError naming the operation.
package service
