package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteEnvironment mirrors one ingested reading as an "environment" point,
// tagged by the owning user. The call never blocks and silently drops the
// point when the client is disconnected; SQLite already holds the reading,
// so a missed mirror costs nothing but a gap in the dashboard.
//
// The obstacle flag is stored as a 0/1 field so it can be graphed and
// aggregated alongside the numeric series.
func (c *Client) WriteEnvironment(userID string, temperature, humidity float64, obstacle bool, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	obstacleVal := 0.0
	if obstacle {
		obstacleVal = 1.0
	}

	point := write.NewPoint(
		"environment",
		map[string]string{
			"user_id": userID,
		},
		map[string]interface{}{
			"temperature": temperature,
			"humidity":    humidity,
			"obstacle":    obstacleVal,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}
