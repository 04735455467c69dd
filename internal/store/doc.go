// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic, allowing business rules to remain
// independent of specific database technologies or persistence details.
//
// Multi-statement operations run through RunInTransaction; store
// implementations expose WithTx so every statement of one logical
// operation shares the same transaction.
package store
