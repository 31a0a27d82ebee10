// Package spanstore is the Cloud Spanner storage collaborator of a
// tracking session.
//
// Batches run inside one read-write transaction with buffered mutations,
// so the batch commits or aborts as a whole. Spanner has no
// auto-increment columns: generated keys are drawn from MAX(key)+1 read
// in the same transaction and handed back as operation results.
//
// Integration tests need the Spanner emulator. They run when
// SPANNER_EMULATOR_HOST and SAVEPIPE_SPANNER_DATABASE are set and are
// skipped otherwise.
package spanstore
