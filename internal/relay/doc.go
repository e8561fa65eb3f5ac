// Package relay connects the ingestion path to storage and outbound
// mirrors.
//
// The Recorder is the production implementation of the stream package's
// Store: each accepted reading is written to SQLite first (the source of
// truth), then mirrored to MQTT and InfluxDB when those backends are
// enabled and connected. Mirror failures never fail ingestion.
package relay
