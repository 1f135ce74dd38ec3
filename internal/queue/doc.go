// Package queue persists jobs and owns the lifecycle state machine.
//
// CanTransition is the single table of legal moves. Every Store method that
// changes a job's state is a conditional UPDATE guarded by the states the
// table allows as predecessors, so concurrent callers race safely: exactly
// one of them observes an affected row and the rest see InvalidTransition
// (or, for Claim, a lost race). The result column is written only by the
// transition into done and the schema rejects any row where the two
// disagree.
//
// SQLite (modernc.org/sqlite) is the default driver; Postgres is reached
// through pgx's database/sql adapter. Both share the same queries, written
// with ? placeholders and rebound for Postgres, and goose migrations
// embedded per dialect.
package queue
