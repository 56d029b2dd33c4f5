package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSensorReadings holds one point per accepted sensor reading,
// tagged with the device id.
const MeasurementSensorReadings = "sensor_readings"

// WriteReading queues the fields of one accepted sensor reading.
//
// Fields are keyed by metric name ("soil_moisture", "battery_level", ...)
// and carry only what the node reported. A reading with no fields is
// ignored.
//
//	client.WriteReading("S1", map[string]float64{"soil_moisture": 41.5}, at)
func (c *Client) WriteReading(deviceID string, fields map[string]float64, at time.Time) {
	if len(fields) == 0 {
		return
	}
	c.write(readingPoint(deviceID, fields, at))
}

func readingPoint(deviceID string, fields map[string]float64, at time.Time) *write.Point {
	values := make(map[string]interface{}, len(fields))
	for name, v := range fields {
		values[name] = v
	}
	return write.NewPoint(MeasurementSensorReadings, map[string]string{"device_id": deviceID}, values, at)
}

// WritePoint queues an arbitrary point, for measurements other than
// sensor readings (ingest counters, for example).
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	c.write(write.NewPoint(measurement, tags, fields, at))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
	c.queued.Add(1)
}
