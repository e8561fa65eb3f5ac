// Package api implements the HTTP REST API and WebSocket endpoint for
// EnviroSense Core.
//
// This package provides:
//   - Auth endpoints (register, token, profile, password change)
//   - Paginated retrieval of stored sensor readings
//   - The WebSocket ingestion endpoint for sensor devices
//   - Middleware stack (request ID, logging, recovery, CORS, body limits,
//     JWT bearer auth)
//
// # Architecture
//
// The server sits between sensor devices / client apps and the storage
// layer. Devices authenticate with a JWT passed as a query parameter on
// the WebSocket upgrade; REST clients use a Bearer header. Accepted
// readings flow through the relay (SQLite first, then optional MQTT and
// InfluxDB mirrors) and are fanned out to the owner's other sockets by
// the stream registry.
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB — ingestion and retrieval
// only require SQLite.
package api
