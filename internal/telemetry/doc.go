// Package telemetry turns sensor node readings into device state.
//
// A reading arrives either over MQTT on {prefix}/{deviceID} or over HTTP
// and passes through the same Ingestor:
//
//	Reading → Validate → device.Manager.ApplyReading → reading history (InfluxDB)
//
// A reading for an unknown or deactivated device is rejected with the
// device package's error and nothing is written to history.
//
// The package also carries the outbound side: EventPublisher observes
// device changes and republishes them on farmra/events/device/{deviceID}.
package telemetry
