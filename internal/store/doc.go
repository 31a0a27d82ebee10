// Package store is the SQLite storage collaborator of a tracking session.
//
// A Store executes planned batches and serves rows for loading:
//   - ExecuteBatch applies inserts, updates and deletes in one transaction
//   - Rows reads a table ordered by primary key
//   - EnsureSchema creates one table per registered entity
//
// # Batch Semantics
//
// Operations run in the order the planner produced. Placeholder keys held
// by dependents are replaced with the keys SQLite assigned to earlier
// inserts of the same batch. Updates and deletes must touch exactly one
// row; anything else aborts the batch with ErrRowNotFound and nothing is
// written.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
