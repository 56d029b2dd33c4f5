package mqtt

import "strings"

// Topic prefixes for FarmRa MQTT traffic.
//
// Sensor nodes publish readings under the configurable telemetry prefix
// (default farmra/telemetry/{deviceID}). Everything the backend publishes
// lives under farmra/events and farmra/system.
const (
	// TopicPrefixEvents carries lifecycle events emitted by the backend.
	TopicPrefixEvents = "farmra/events"

	// TopicPrefixSystem carries backend presence and housekeeping messages.
	TopicPrefixSystem = "farmra/system"

	// DefaultTelemetryPrefix is where sensor nodes publish readings
	// when no prefix is configured.
	DefaultTelemetryPrefix = "farmra/telemetry"
)

// Topics provides builders for FarmRa MQTT topics.
//
// Using a struct with methods provides namespacing without global state.
// All methods are safe to call on a zero-value Topics{}.
//
// Example:
//
//	topic := mqtt.Topics{}.DeviceEvent("S1")
//	// Returns: "farmra/events/device/S1"
type Topics struct{}

// Telemetry returns the topic a sensor node publishes readings to.
// An empty prefix falls back to DefaultTelemetryPrefix.
//
// Example: farmra/telemetry/S1
func (Topics) Telemetry(prefix, deviceID string) string {
	return telemetryPrefix(prefix) + "/" + deviceID
}

// AllTelemetry returns a pattern matching every device's telemetry topic.
//
// Pattern: farmra/telemetry/+
func (Topics) AllTelemetry(prefix string) string {
	return telemetryPrefix(prefix) + "/+"
}

// DeviceEvent returns the topic device lifecycle changes are published to.
//
// Example: farmra/events/device/S1
func (Topics) DeviceEvent(deviceID string) string {
	return TopicPrefixEvents + "/device/" + deviceID
}

// AllDeviceEvents returns a pattern matching every device event topic.
//
// Pattern: farmra/events/device/+
func (Topics) AllDeviceEvents() string {
	return TopicPrefixEvents + "/device/+"
}

// SystemStatus returns the backend online/offline status topic.
//
// Example: farmra/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllTopics returns a pattern matching all FarmRa topics.
//
// Pattern: farmra/#
func (Topics) AllTopics() string {
	return "farmra/#"
}

// DeviceIDFromTelemetryTopic extracts the device ID from a telemetry topic.
// It reports false when the topic is not directly below the prefix or the
// trailing segment is empty.
func DeviceIDFromTelemetryTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, telemetryPrefix(prefix)+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func telemetryPrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return DefaultTelemetryPrefix
	}
	return prefix
}
