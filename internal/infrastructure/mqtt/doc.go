// Package mqtt provides MQTT client connectivity for EnviroSense Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing stored readings to per-user topics
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The relay is strictly outbound: every reading accepted over the socket
// ingest path is republished to envirosense/readings/{user_id} so external
// consumers (dashboards, automations, recorders) can follow the live feed
// without holding a websocket. The backend's own fan-out does not depend
// on the broker; MQTT is optional and failures are logged, never surfaced
// to devices.
//
//	ESP32 → EnviroSense Core → MQTT Broker → external consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishReading(reading.UserID, payload)
package mqtt
