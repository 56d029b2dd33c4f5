// Package api implements the HTTP REST API and WebSocket server for FarmRa Core.
//
// This package provides:
//   - REST endpoints for device registration, lifecycle and assignment
//   - Reading ingestion over HTTP
//   - Signup, login, logout and principal administration
//   - A WebSocket hub relaying device changes
//   - Middleware stack (request ID, logging, recovery, CORS, auth, rate limit)
//
// # Architecture
//
// The API server sits between the farm dashboard and the device lifecycle
// manager. Every handler reads the caller's identity from the request context
// and passes it explicitly to the services it calls. Device changes reach
// WebSocket clients through the hub, which is registered as a device observer.
//
// # Security
//
// One credential mode is active per deployment: bearer tokens signed with the
// JWT secret, or server-side sessions carried in an HttpOnly cookie. Route
// groups declare the roles they admit; a missing credential is 401 and a
// disallowed role is 403. WebSocket connections use single-use tickets so the
// credential never appears in a URL.
//
// Every device route is served under both /api/devices and /api/sensors.
package api
