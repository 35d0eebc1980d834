// Package mqtt mirrors device lifecycle traffic onto an MQTT broker.
//
// The daemon is publish-only. Every registered device has a retained
// state topic and a non-retained event stream under chanio/device/,
// fed by the Notifier from core lifecycle callbacks, and the daemon
// announces its own liveness on chanio/system/status with an LWT so a
// crash is distinguishable from a graceful shutdown.
//
// Connection loss is handled by paho's auto-reconnect; the retained
// topics are refreshed on every reconnect. Enable TLS on the broker
// section for anything beyond local development.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	notifier := mqtt.NewNotifier(client, byte(cfg.MQTT.QoS), core.Availability)
//	go notifier.Run(ctx)
package mqtt
