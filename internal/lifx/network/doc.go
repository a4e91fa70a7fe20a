// Package network is the top of the LIFX stack.
//
// A Context resolves addressing intents (device, tag, site, broadcast) into
// wire paths using the routing tables, hands the resulting messages to the
// LAN manager and keeps the tables current from every inbound frame.
//
// # Sync
//
// Sync runs a function whose sends are held back, samples a device's clock,
// stamps every held message with one future execution time and then
// dispatches them. Devices apply the messages at the same instant on their
// own clocks regardless of how long delivery takes:
//
//	delay, err := nc.Sync(ctx, func(ctx context.Context, s network.Sender) error {
//	    for _, id := range ids {
//	        if err := s.Send(ctx, routing.DeviceTarget(id), set, network.SendOptions{}); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//
// # Tags
//
// TagManager creates site-scoped tags and edits a device's tag bitmask,
// waiting for the device to report the new mask before returning.
package network
