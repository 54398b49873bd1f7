// Package services defines the boundary between the download pipeline and the outside world.
//
// # Collaborators
//
// The pipeline consumes exactly three things from a music server:
//   - [Fetcher] : open a byte stream for an item at a quality, optionally from an offset
//   - [Describer] : resolve an item id into title, artist, album and duration
//   - [CoverFetcher] : optional cover art
//
// and reports queue state to a [Player], the live playback engine.
//
// # Remote Implementation
//
// [RemoteService] implements the three server-facing interfaces over plain HTTP.
// Resumable fetches send "Range: bytes=N-"; a 206 answer is honoured through Content-Range,
// while a 200 answer restarts from zero.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrItemNotFound] : the server answered 404
//   - [shared.ErrServiceUnavailable] : transport failure or 502/503/504
//   - [shared.ErrAPIRequest] : any other non-2xx answer or an undecodable body
//   - [shared.ErrInvalidQuality] : unknown quality tier requested
package services
