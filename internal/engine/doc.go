// Package engine implements change tracking and the save pipeline.
//
// A Session is one unit of work. It holds an identity map of tracked
// entries, each pairing a caller-owned *Object with its current values,
// the values last read from or written to storage, and a tracking State.
//
// Save flow:
//
//  1. The caller mutates objects and collections.
//  2. DetectChanges diffs collections against their snapshots and values
//     against original values, staging Added, Modified and Deleted entries.
//  3. Plan builds one operation per staged entry, filters each through
//     FilterProperties, and orders the batch by foreign-key dependencies.
//  4. SaveChanges hands the batch to a BatchExecutor and, once it commits,
//     refreshes every entry so the stored values become the originals.
//
// Every state transition is stamped by a logical clock. Staging order is
// the order the debug view renders and the tie-breaker the planner uses;
// wall-clock time is never consulted.
//
// A child replaced in a collection by a new instance with the same key is
// written as a delete and an insert under ReplaceDeleteInsert, or as a
// single update under ReplaceUpdateInPlace. The save-behavior filter always
// applies per written operation kind.
//
// Sessions are single-threaded. Share the Registry between sessions, never
// a Session between goroutines.
package engine
