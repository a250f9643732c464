// Package mqtt provides the MQTT connection Deckvault Core uses to publish
// security events (logins, revocations, role changes) to other services.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// Core only publishes. Consumers (SIEM forwarders, alerting) subscribe to
// {prefix}/auth/events/# on their own.
//
// # Security Considerations
//
//   - Enable TLS for anything beyond a local broker (cfg.Broker.TLS=true)
//   - Event payloads carry user and session ids, never tokens or passwords
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().AuthEvent("login_succeeded")
//	client.Publish(topic, payload, 1, false)
package mqtt
