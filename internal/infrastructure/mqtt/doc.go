// Package mqtt provides the MQTT connection used by the LayerFlow session bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Publishing with QoS and retained flags
//   - Wildcard subscriptions that survive reconnects
//   - Last Will and Testament on {prefix}/system/status
//
// # Architecture
//
// Editors do not talk to a session directly. They publish JSON commands to
// {prefix}/session/{workflow_id}/command and watch the matching state and
// save topics:
//
//	Editor ↔ MQTT Broker ↔ bus.Bridge ↔ session.Session
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) whenever the broker is not on localhost
//   - Pass credentials through LAYERFLOW_MQTT_USERNAME / LAYERFLOW_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllSessionCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := client.Topics().WorkflowFromTopic(topic)
//	        return handle(id, payload)
//	    })
package mqtt
