package registry

import "github.com/google/uuid"

// ConnID identifies a connection for the lifetime of a registry.
type ConnID string

// NewConnID returns a fresh random connection id.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Identity is the authenticated principal attached to a connection.
type Identity interface {
	Subject() string
}

// Conn is the server-side handle of one live client connection.
type Conn struct {
	id       ConnID
	mailbox  *Mailbox
	identity Identity
}

// NewConn creates a handle with a fresh id. identity may be nil.
func NewConn(mailbox *Mailbox, identity Identity) *Conn {
	if mailbox == nil {
		mailbox = NewMailbox(DefaultMailboxSize)
	}
	return &Conn{
		id:       NewConnID(),
		mailbox:  mailbox,
		identity: identity,
	}
}

func (c *Conn) ID() ConnID { return c.id }

func (c *Conn) Mailbox() *Mailbox { return c.mailbox }

// Identity returns the attached principal, or nil.
func (c *Conn) Identity() Identity { return c.identity }
