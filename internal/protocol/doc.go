// Package protocol defines the room relay wire format: inbound commands sent by
// clients (JOIN, LEAVE, MESSAGE) and outbound events written back to them.
//
// Inbound frames are JSON tagged unions:
//
//	{"JOIN": "lobby"}
//	{"LEAVE": "lobby"}
//	{"MESSAGE": {"room": "lobby", "message": "hello"}}
//
// Outbound frames always have the shape of Response.
package protocol
