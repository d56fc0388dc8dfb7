// Package mqtt publishes the ingest service's status over MQTT and
// accepts remote shutdown commands.
//
// # Topics
//
//	<prefix>/<client_id>/status            retained {"status":"online"|"offline",...}
//	<prefix>/<client_id>/storage           retained {"available":bool,"error":...}
//	<prefix>/<client_id>/command/shutdown  any payload requests a graceful shutdown
//
// The broker publishes an offline status with reason
// "unexpected_disconnect" through the Last Will and Testament when the
// process dies without closing the client.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, runID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	manager.OnStateChange(client.PublishStorage)
//	err = client.SubscribeShutdown(func(reason string) {
//	    shutdown <- reason
//	})
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anyone allowed to publish on the command topic can stop the service;
//     restrict it with broker ACLs
package mqtt
