// Package run defines the multi-step run model and the versioned
// checkpoint that lets a run resume from its last safe point.
//
// A [Run] carries an ordered step list. After each step a worker calls
// [Manager.CreateCheckpoint], which snapshots the completed steps, the
// failed step (if any), and an opaque artifact document into a single
// [Checkpoint] per run. The checkpoint is overwritten, not appended: the
// store increments the version inside the same transaction, so versions
// are strictly increasing even under concurrent writers.
//
// Artifacts are size-capped. Entries above the per-item cap are replaced
// with a stable truncation marker that preserves key presence and records
// the original size, so resume logic can detect the truncation instead of
// silently losing state.
package run
