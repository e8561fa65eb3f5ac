package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/envirosense/envirosense-core/internal/infrastructure/influxdb"
	"github.com/envirosense/envirosense-core/internal/infrastructure/logging"
	"github.com/envirosense/envirosense-core/internal/infrastructure/mqtt"
	"github.com/envirosense/envirosense-core/internal/sensor"
)

// Publisher relays a stored reading to external consumers. *mqtt.Client
// satisfies this.
type Publisher interface {
	PublishReading(userID string, payload []byte) error
	IsConnected() bool
}

// MetricWriter mirrors a reading into the time-series store. *influxdb.Client
// satisfies this.
type MetricWriter interface {
	WriteEnvironment(userID string, temperature, humidity float64, obstacle bool, timestamp time.Time)
	IsConnected() bool
}

// Recorder is the production stream.Store: it persists readings to SQLite
// and then mirrors them to MQTT and InfluxDB on a best-effort basis.
// Persistence failures are returned to the caller; mirror failures are
// logged and swallowed so a flaky broker never breaks ingestion.
type Recorder struct {
	repo    sensor.Repository
	publish Publisher
	metrics MetricWriter
	logger  *logging.Logger
}

// NewRecorder wires the recorder. publish and metrics may be nil when the
// corresponding backend is disabled.
func NewRecorder(repo sensor.Repository, publish Publisher, metrics MetricWriter, logger *logging.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		publish: publish,
		metrics: metrics,
		logger:  logger.With("component", "relay"),
	}
}

// Record stores the reading, assigning its ID, then fans it out to the
// configured mirrors.
func (r *Recorder) Record(ctx context.Context, reading *sensor.Reading) error {
	if err := r.repo.Append(ctx, reading); err != nil {
		return fmt.Errorf("append reading: %w", err)
	}

	r.mirror(reading)
	return nil
}

func (r *Recorder) mirror(reading *sensor.Reading) {
	if r.publish != nil && r.publish.IsConnected() {
		payload, err := json.Marshal(reading)
		if err != nil {
			r.logger.Error("marshal reading for mqtt", "error", err, "reading_id", reading.ID)
		} else if err := r.publish.PublishReading(reading.UserID, payload); err != nil {
			r.logger.Warn("mqtt publish failed", "error", err, "reading_id", reading.ID)
		}
	}

	if r.metrics != nil && r.metrics.IsConnected() {
		r.metrics.WriteEnvironment(
			reading.UserID,
			reading.Temperature,
			reading.Humidity,
			reading.Obstacle,
			reading.RecordedAt,
		)
	}
}

var (
	_ Publisher    = (*mqtt.Client)(nil)
	_ MetricWriter = (*influxdb.Client)(nil)
)
