package registry

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomrelay/internal/protocol"
)

// Registry owns all connections and rooms.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*Conn
	rooms map[string]*room
	log   zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns: make(map[ConnID]*Conn),
		rooms: make(map[string]*room),
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// Register inserts c and returns its id. Registering the same handle twice is
// harmless.
func (r *Registry) Register(c *Conn) ConnID {
	r.mu.Lock()
	r.conns[c.id] = c
	total := len(r.conns)
	r.mu.Unlock()

	r.log.Debug().Str("conn", string(c.id)).Int("connections", total).Msg("connection registered")
	return c.id
}

// Conn returns the handle registered under id.
func (r *Registry) Conn(id ConnID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

// Join adds id to the named room, creating the room if needed, and returns the
// resulting membership. Joining twice fails with ErrAlreadyMember and leaves
// the room unchanged.
func (r *Registry) Join(name string, id ConnID) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return Room{}, errors.Wrapf(ErrUnknownConnection, "join %q", name)
	}

	rm, ok := r.rooms[name]
	if !ok {
		rm = newRoom(name)
		r.rooms[name] = rm
	}

	if !rm.add(id) {
		return rm.snapshot(), errors.Wrapf(ErrAlreadyMember, "join %q", name)
	}

	r.log.Debug().Str("room", name).Str("conn", string(id)).Int("members", len(rm.members)).Msg("joined room")
	return rm.snapshot(), nil
}

// Leave removes id from the named room and returns the resulting membership.
// It fails with ErrRoomNotFound when the room does not exist or id is not a
// member; nothing is mutated in that case.
func (r *Registry) Leave(name string, id ConnID) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		return Room{}, errors.Wrapf(ErrRoomNotFound, "leave %q", name)
	}
	if !rm.remove(id) {
		return Room{}, errors.Wrapf(ErrRoomNotFound, "leave %q: not a member", name)
	}

	r.log.Debug().Str("room", name).Str("conn", string(id)).Int("members", len(rm.members)).Msg("left room")
	return rm.snapshot(), nil
}

// Room returns a snapshot of the named room.
func (r *Registry) Room(name string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return Room{}, false
	}
	return rm.snapshot(), true
}

// RemoveEverywhere drops id from every room and from the connection table and
// closes its mailbox. It reports whether id was registered; calling it again
// is a no-op.
func (r *Registry) RemoveEverywhere(id ConnID) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	left := 0
	for _, rm := range r.rooms {
		if rm.remove(id) {
			left++
		}
	}
	delete(r.conns, id)
	total := len(r.conns)
	c.mailbox.Close()
	r.mu.Unlock()

	r.log.Debug().Str("conn", string(id)).Int("rooms", left).Int("connections", total).Msg("connection removed")
	return true
}

// Broadcast delivers ev to every current member of the named room and returns
// the number of successful deliveries. A failed delivery to one member is
// logged and skipped. The only error is ErrRoomNotFound.
func (r *Registry) Broadcast(name string, ev protocol.Event) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return 0, errors.Wrapf(ErrRoomNotFound, "broadcast %q", name)
	}

	delivered := 0
	for _, id := range rm.members {
		c, ok := r.conns[id]
		if !ok {
			r.log.Warn().Str("room", name).Str("conn", string(id)).Msg("room member has no connection; skipping")
			continue
		}
		if err := c.mailbox.Send(ev); err != nil {
			r.log.Warn().Err(err).Str("room", name).Str("conn", string(id)).Msg("delivery failed; skipping member")
			continue
		}
		delivered++
	}
	return delivered, nil
}

// SendTo delivers ev to a single connection.
func (r *Registry) SendTo(id ConnID, ev protocol.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return errors.Wrapf(ErrUnknownConnection, "send to %s", id)
	}
	return errors.Wrapf(c.mailbox.Send(ev), "send to %s", id)
}

// CloseAll sends a close event to every registered connection and returns how
// many accepted it.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	closed := 0
	for id, c := range r.conns {
		if err := c.mailbox.Send(protocol.Close()); err != nil {
			r.log.Debug().Err(err).Str("conn", string(id)).Msg("close not accepted")
			continue
		}
		closed++
	}
	return closed
}

// Stats returns the number of rooms and registered connections.
func (r *Registry) Stats() (rooms, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.conns)
}

// RoomNames returns all known room names in sorted order.
func (r *Registry) RoomNames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
