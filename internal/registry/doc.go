// Package registry is the authoritative directory of live connections and
// rooms.
//
// A Registry owns every Conn once registered and every room ever joined. Rooms
// hold connection ids only; live handles are always resolved through the
// registry, so removing a connection from every room is a single pass over
// keys. All state is guarded by one lock, which makes every operation
// linearizable with respect to the others: a broadcast never observes a room
// mid-mutation and never delivers to a connection that has been removed.
//
// Rooms are created lazily on first join and are never destroyed, even when
// they become empty. Room names are expected to be bounded, so the map only
// grows with the number of distinct names ever used.
package registry
