// Package queue defines the durable job queue used to propagate task changes
// to asynchronous side effects.
//
// Jobs carry a caller-chosen dedupe key. The asynq implementation stores it
// as the task ID, so enqueueing a key that is already pending, scheduled,
// retrying or active is reported as a duplicate rather than an error. A dead
// (archived) job holding the key is logged, deleted and replaced. Delivery is
// at-least-once: handlers must tolerate seeing the same job twice.
package queue
