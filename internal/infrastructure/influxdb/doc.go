// Package influxdb mirrors ingested sensor readings into InfluxDB v2.
//
// SQLite is the source of truth; this package feeds an optional time-series
// copy for dashboards, long-range trends, and retention policies. A reading
// that fails to mirror is still stored and broadcast, so everything here is
// best-effort: writes are batched and non-blocking, and their errors arrive
// through a callback instead of a return value.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the mirror
//	}
//	defer client.Close()
//
//	client.WriteEnvironment("usr-1a2b", 21.5, 48.0, false, reading.RecordedAt)
//
// All methods are safe for concurrent use, and a zero Client acts as a
// permanently disconnected one.
package influxdb
