// Package server exposes the room relay over WebSocket.
//
// It authenticates upgrade requests, registers each accepted connection with
// the registry, and runs two goroutines per connection: a reader that decodes
// and dispatches commands, and a writer that drains the connection's mailbox.
// Room messages are published through the bridge and reach members only via
// the relay.
package server
