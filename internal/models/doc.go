// Package models defines the entities shared by the queue store, the download pipeline and the offline catalog.
//
// The package contains two categories of types:
//
// 1. Collaborator data: what the remote server tells us about something playable
//   - [Item] : id plus descriptive metadata, copied at download time
//   - [Quality] : download tier carrying codec, bitrate and canonical extension
//
// 2. Persistent entities: rows owned by the repositories
//   - [QueueEntry] : one position in the durable play queue; orders are dense from 0
//   - [DownloadJob] : one attempt to fetch an item, with [JobStatus] lifecycle and progress
//   - [OfflineTrack] : a completed, normalized local copy of an item
//
// The Repository[T] interface defines the keyed read/delete surface shared by the catalogs.
package models
