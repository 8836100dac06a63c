// Package postgres implements the durable store interfaces on PostgreSQL
// using pgx. Every state transition is a guarded UPDATE whose precondition
// lives in the WHERE clause, so concurrent workers race safely at the
// database rather than in application code.
//
// Schema management is intentionally simple: Migrate applies an ordered
// list of idempotent CREATE statements, safe to run on every boot.
package postgres
