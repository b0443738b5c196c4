package registry

// Room is a point-in-time snapshot of a room's membership, in join order.
type Room struct {
	Name    string
	Members []ConnID
}

// Has reports whether id is in the snapshot.
func (r Room) Has(id ConnID) bool {
	for _, member := range r.Members {
		if member == id {
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (r Room) Len() int { return len(r.Members) }

// room is the mutable membership set owned by the Registry.
type room struct {
	name    string
	members []ConnID
	index   map[ConnID]struct{}
}

func newRoom(name string) *room {
	return &room{
		name:  name,
		index: make(map[ConnID]struct{}),
	}
}

func (r *room) has(id ConnID) bool {
	_, ok := r.index[id]
	return ok
}

// add appends id and reports whether it was absent.
func (r *room) add(id ConnID) bool {
	if r.has(id) {
		return false
	}
	r.index[id] = struct{}{}
	r.members = append(r.members, id)
	return true
}

// remove deletes id if present and reports whether it was there.
func (r *room) remove(id ConnID) bool {
	if !r.has(id) {
		return false
	}
	delete(r.index, id)
	for i, member := range r.members {
		if member == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	return true
}

func (r *room) snapshot() Room {
	return Room{
		Name:    r.name,
		Members: append([]ConnID(nil), r.members...),
	}
}
