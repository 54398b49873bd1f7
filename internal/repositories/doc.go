// Package repositories implements SQLite persistence for the play queue, download jobs and the offline catalog.
//
// Key Implementations:
//   - [QueueRepository] : durable play queue; mutations are serialized through one writer goroutine and each
//     applied as an atomic delete-all plus insert-all, so positions stay dense from 0
//   - [DownloadJobRepository] : one row per item id with status, progress and copied metadata
//   - [OfflineTrackRepository] : catalog of completed downloads, queried by id, artist or album;
//     every read passes through a [Normalizer]
//
// Out-of-range queue indices are ignored rather than reported, since callers read a snapshot and act on it
// while other callers may be mutating the same queue.
package repositories
