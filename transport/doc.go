// Package transport carries JSON-RPC 2.0 between a pluginkit host and the
// tools that inspect or call its registries.
//
// # Overview
//
// A Transport moves JSON-RPC messages over one connection. Serve reads
// requests from it, hands them to a Handler and writes the responses back.
// The extension package provides the Handler that exposes a Directory.
//
// # Available Transports
//
//   - StdioTransport: newline-delimited JSON over stdin/stdout
//   - WebSocketTransport: one message per text frame
//
// # Usage
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
//	err := transport.Serve(ctx, t, extension.NewRPCHandler(dir))
//
// # Errors
//
// Registry errors are returned with code -32000 (or -32602 for INVALID_INPUT)
// and the structured error in the data member, so FromError on the client
// side yields an error with the same code, registry and item.
//
// # Thread Safety
//
// All transport methods are safe for concurrent use. The Recv channel is
// closed when the peer goes away or the transport shuts down.
package transport
