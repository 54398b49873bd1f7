// Package server provides the local HTTP API used by the serve command.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// [Logging] and [Recover] are the stock middleware.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so "GET /api/jobs/{id}" and
// "DELETE /api/jobs/{id}" can coexist and path values come from [http.Request.PathValue].
//
// # JSON API
//
// [API] maps the coordinator onto /api/queue, /api/jobs and /api/offline. Errors are returned as
// {"error": "..."} with a status chosen by [StatusFor].
//
// # Live Events
//
// [EventsHandler] serves /api/events as a websocket. Each coordinator event is written as one JSON message;
// the connection is kept alive with pings and closed when the coordinator shuts down.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
