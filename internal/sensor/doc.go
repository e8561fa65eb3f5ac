// Package sensor defines environmental readings and their persistence.
//
// A Reading captures one measurement cycle from an ESP32 field unit:
// temperature, relative humidity, and an obstacle flag from the proximity
// sensor. Inbound frames are parsed leniently (any subset of fields next
// to temperature, extras ignored) but typed strictly, so a firmware bug
// sending strings where numbers belong is rejected at the edge.
//
// Readings are stored in SQLite, newest-first retrieval with clamped
// pagination limits.
package sensor
