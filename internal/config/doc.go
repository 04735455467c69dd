// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, an optional config.yaml). It
// provides type-safe access to the settings of the HTTP server, the database,
// the Redis-backed job queue, the worker and the overdue scanner while keeping
// configuration details separate from business logic.
package config
