// Package mqtt provides the MQTT client used by the gateway's state mirror.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Topic Tree
//
// All topics live under a configurable prefix (default "panelsense"):
//
//	{prefix}/{domain}/{object_id}/state   retained entity state
//	{prefix}/{domain}/{object_id}/set     inbound commands
//	{prefix}/system/status                gateway online/offline (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.PublishRetained(topics.EntityState("light", "kitchen"), payload)
package mqtt
