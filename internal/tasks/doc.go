// Package tasks runs the offline download pipeline and fronts the play queue.
//
// # Core Operations
//
// [Coordinator] is the entry point used by the CLI, the status server and the monitor:
//
//  1. [Coordinator.RequestDownload] : create or reuse a job and schedule its fetch
//     - At most one active job and one background fetch per item
//     - Metadata is resolved through a [services.Describer] when not supplied
//
//  2. [Coordinator.CancelDownload] : stop a fetch, delete partial files and the job row
//
//  3. [Coordinator.RemoveOfflineTrack], [Coordinator.VerifyIntegrity], [Coordinator.ClearAll] : catalog upkeep
//
//  4. Queue mutations ([Coordinator.ReplaceQueue], [Coordinator.InsertAt], ...) : committed through the
//     queue store, then mirrored into the attached [services.Player]
//
// # Progress Reporting
//
// The [Registry] is the single writer for jobs. Every change is persisted, cached and then published through
// a [Broadcaster]. Progress events never block; status events wait a bounded time for slow subscribers.
// Progress for a job never decreases.
//
// # Implementation
//
// Fetches run on a [Scheduler] with a fixed number of slots and a start rate limit. Each fetch streams into
// {id}.part, is renamed to {id}.{ext}, normalized and then recorded in the offline catalog before the job is
// marked Completed. On startup [Coordinator.Open] takes an exclusive lock on the data directory and returns
// interrupted jobs to Pending so [Coordinator.Start] can resume them.
package tasks
