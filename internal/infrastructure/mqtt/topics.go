package mqtt

import "fmt"

// Topic prefixes for the EnviroSense MQTT namespace.
const (
	// TopicPrefix is the base for all EnviroSense topics.
	TopicPrefix = "envirosense"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "envirosense/system"
)

// Topics provides builders for EnviroSense MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// Readings returns the per-user topic stored readings are relayed to.
//
// Example: envirosense/readings/usr-1a2b3c4d
func (Topics) Readings(userID string) string {
	return fmt.Sprintf("%s/readings/%s", TopicPrefix, userID)
}

// SystemStatus returns the backend online/offline status topic.
//
// Example: envirosense/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
