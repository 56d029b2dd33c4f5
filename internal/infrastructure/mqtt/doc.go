// Package mqtt provides MQTT client connectivity for FarmRa Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Field sensor nodes publish readings to the broker; the backend subscribes
// to the telemetry wildcard and feeds each message into the ingest pipeline.
// Device lifecycle changes flow the other way as events.
//
//	Sensor Nodes → MQTT Broker ↔ FarmRa Core
//
// # Security Considerations
//
//   - TLS should be enabled for deployments outside the farm LAN (cfg.Broker.TLS=true)
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
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(cfg.MQTT.Ingest.TopicPrefix), 1,
//	    func(topic string, payload []byte) error {
//	        return ingestor.HandleMessage(topic, payload)
//	    })
package mqtt
