// Package lan manages LIFX gateways reachable on the local network.
//
// The package is layered:
//
//	Manager            broadcast + peer sockets, discovery loop, site map
//	  └─ Site          all gateways of one PAN, light re-scan, stale sweep
//	       └─ GatewayConnection
//	                   UDP/TCP transports of one gateway, rate-limited queue
//
// Every inbound frame, whichever socket it arrived on, is published to the
// Manager's listeners.
//
// # Write path
//
// Manager.Write sends all-sites messages on the broadcast socket and all
// other messages to every gateway of the addressed site. Each gateway queues
// the message (bounded, blocking when full) and a single worker drains the
// queue at the gateway's message rate, preferring TCP over UDP. A failed
// write is re-queued at the tail.
//
// # Usage
//
//	mgr, err := lan.New(ctx, lan.Config{Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	mgr.AddListener(transport.ListenerFunc(handle))
//	mgr.Discover()
package lan
