// Package influxdb provides InfluxDB connectivity for FarmRa Core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, reading history writes and health monitoring.
//
// Every sensor reading accepted by the ingest pipeline is written as one
// point in the sensor_readings measurement, tagged with device_id. The
// backend never reads this history back; dashboards query it directly.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading("S1", map[string]float64{"soil_moisture": 41.5}, time.Now())
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
