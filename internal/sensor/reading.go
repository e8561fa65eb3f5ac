package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPayload indicates a data frame that could not be decoded into
// a reading (malformed JSON or wrong field types).
var ErrInvalidPayload = errors.New("invalid sensor payload")

// Reading is a single environmental measurement reported by a device.
//
// The JSON tags define the broadcast wire shape pushed to every socket the
// owning user has open.
type Reading struct {
	// ID is the auto-incremented primary key assigned on persist.
	ID int64 `json:"id"`

	// Temperature in degrees Celsius.
	Temperature float64 `json:"temperature"`

	// Humidity as relative percentage.
	Humidity float64 `json:"humidity"`

	// Obstacle reports whether the proximity sensor detected an obstruction.
	Obstacle bool `json:"obstacle"`

	// UserID is the account that owns the reporting device.
	UserID string `json:"user_id"`

	// RecordedAt is the server-side ingest timestamp (UTC).
	RecordedAt time.Time `json:"timestamp"`
}

// frame is the inbound data payload. Pointer fields distinguish absent
// fields, which default to zero values, from type mismatches, which are
// rejected.
type frame struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Obstacle    *bool    `json:"obstacle"`
}

// ParseFrame decodes an inbound data frame into a Reading for the given
// user. Devices may report any subset of fields alongside temperature;
// humidity and obstacle default to zero values when absent. Unknown extra
// fields are ignored so firmware can evolve ahead of the backend.
func ParseFrame(data []byte, userID string, at time.Time) (*Reading, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if f.Temperature == nil {
		return nil, fmt.Errorf("%w: missing temperature", ErrInvalidPayload)
	}

	r := &Reading{
		Temperature: *f.Temperature,
		UserID:      userID,
		RecordedAt:  at.UTC(),
	}
	if f.Humidity != nil {
		r.Humidity = *f.Humidity
	}
	if f.Obstacle != nil {
		r.Obstacle = *f.Obstacle
	}
	return r, nil
}

// HasTemperature reports whether a raw message carries a temperature field,
// which is what marks it as a data frame rather than a control message.
func HasTemperature(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, ok := probe["temperature"]
	return ok
}
