// Package bus provides the message bus that carries broadcasts and remote
// plugin calls between a host process and its extensions.
//
// # Overview
//
// The MessageBus interface offers pub/sub and request/reply. The extension
// package publishes registry broadcasts on it and answers remote plugin calls
// through it; nothing in registry depends on it.
//
// # Available Implementations
//
//   - NATSBus: messaging across processes and hosts using NATS
//   - MemoryBus: in-process implementation for tests and embedded extensions
//
// # Patterns
//
// Pub/Sub, used for broadcasts:
//
//	bus.Publish("pluginkit.broadcast", data)
//	sub, _ := bus.Subscribe("pluginkit.broadcast")
//	for msg := range sub.Messages() {
//	    // Decode announcement
//	}
//
// Request/Reply, used for remote calls. The context bounds the wait:
//
//	// Responder
//	sub, _ := bus.QueueSubscribe("pluginkit.call.<node>", "pluginkit")
//	for msg := range sub.Messages() {
//	    bus.Publish(msg.Reply, response)
//	}
//
//	// Requester
//	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	reply, err := bus.Request(ctx, "pluginkit.call.<node>", data)
//
// # Queue Groups
//
// Several copies of one extension can share a queue group so each call is
// served by exactly one of them. MemoryBus picks members round-robin.
package bus
