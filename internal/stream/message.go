package stream

import (
	"encoding/json"
	"fmt"
)

// Ack and status message shapes. These mirror what the device firmware
// already parses, so field names are load-bearing.

// statusMessage is the generic ack envelope.
type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ID      int64  `json:"id,omitempty"`
}

// welcomeMessage greets a freshly registered socket with current counts.
type welcomeMessage struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	Connections     int    `json:"connections"`
	UserConnections int    `json:"user_connections"`
}

// controlMessage is the typed control envelope (ping/pong).
type controlMessage struct {
	Type string `json:"type"`
}

func encodeWelcome(username string, counts Counts) []byte {
	return mustMarshal(welcomeMessage{
		Status:          "connected",
		Message:         fmt.Sprintf("Connected as %s", username),
		Connections:     counts.Total,
		UserConnections: counts.User,
	})
}

func encodePong() []byte {
	return mustMarshal(controlMessage{Type: "pong"})
}

func encodeError(message string) []byte {
	return mustMarshal(statusMessage{Status: "error", Message: message})
}

func encodeSuccess(id int64) []byte {
	return mustMarshal(statusMessage{Status: "success", Message: "Data received", ID: id})
}

// mustMarshal encodes fixed message shapes that cannot fail.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
