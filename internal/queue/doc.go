// Package queue persists pipeline jobs in SQLite and defines their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, and crash recovery. Jobs capture the source reference, workspace
// handle, produced artifacts, failure records, and progress so the scheduler
// and the CLI can coordinate without additional state.
//
// The database is treated as transient storage for in-flight jobs rather
// than a long-term archive. Schema changes bump the version in schema.go;
// users clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for job lifecycle
// semantics; when you add new statuses or fields, update schema.sql and bump
// schemaVersion.
package queue
