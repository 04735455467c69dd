// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package.
// It handles query execution against the tasks table, row locking for
// read-before-write inside transactions, and the mapping of PostgreSQL errors
// onto store-level errors.
package postgres
