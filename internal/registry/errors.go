package registry

import "github.com/pkg/errors"

var (
	// ErrAlreadyMember is returned when a connection joins a room it is already in.
	ErrAlreadyMember = errors.New("already a member of room")
	// ErrRoomNotFound is returned when leaving a room that does not exist or
	// that the connection is not a member of, and when broadcasting to a room
	// that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnknownConnection is returned for ids that are not registered.
	ErrUnknownConnection = errors.New("unknown connection")

	ErrMailboxClosed = errors.New("mailbox closed")
	ErrMailboxFull   = errors.New("mailbox full")
)
