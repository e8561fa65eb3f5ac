// Package stream manages live sensor sockets.
//
// The Registry is the single source of truth for open connections. It
// groups sockets by owning user, enforces the per-user cap by evicting
// the oldest socket, probes and reaps stale connections, and serialises
// every outbound write behind one mutex so the websocket single-writer
// rule holds without per-connection writer goroutines.
//
// A Session wraps one authenticated connection: it registers with the
// Registry, answers pings, validates and persists data frames, and fans
// each stored reading out to every socket its owner has open. A socket
// that fails a write is dropped in isolation; the owner's other sockets
// keep receiving.
package stream
