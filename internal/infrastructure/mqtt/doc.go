// Package mqtt provides MQTT client connectivity for irrigationd.
//
// The broker is the service's event bus: lifecycle events are published
// under {prefix}/irrigation/events, bus requests arrive under
// {prefix}/irrigation/request, and in MQTT actuation mode circuit commands
// are sent to {prefix}/irrigation/circuits/{id}/set.
//
// The client reconnects automatically, restores subscriptions after a
// reconnect and keeps a retained status message on
// {prefix}/irrigation/status, backed by a Last Will for crash detection.
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
//	err = client.Subscribe(topics.AllRequests(), 1, handler)
//	err = client.PublishJSON(topics.Event("didStart"), event)
package mqtt
