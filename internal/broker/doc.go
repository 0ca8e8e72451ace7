// Package broker supervises a local MQTT broker process.
//
// On the SIDEKICK hotspot the broker (mosquitto with a WebSocket listener)
// runs on the same machine as the bridge. When broker.managed is set,
// sidekickd starts it, restarts it with exponential backoff when it exits,
// and watches its listener with a TCP health check: three consecutive
// failed checks kill the process so it is restarted.
//
//	sup := broker.New(broker.OptionsFromConfig(cfg.Broker), logger)
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
//	sup.WaitReady(ctx)
package broker
