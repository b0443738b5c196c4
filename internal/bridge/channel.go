package bridge

import "strings"

const (
	// ChannelPrefix is the first segment of every room channel.
	ChannelPrefix = "room"
	// Separator joins channel segments.
	Separator = "::"
	// Pattern subscribes to every room channel.
	Pattern = ChannelPrefix + Separator + "*"
)

// ChannelFor returns the external channel carrying messages for room.
func ChannelFor(room string) string {
	return ChannelPrefix + Separator + room
}

// RoomFromChannel extracts the room name from an external channel. It
// reports false for channels with fewer than two segments or an empty room.
func RoomFromChannel(channel string) (string, bool) {
	segments := strings.Split(channel, Separator)
	if len(segments) < 2 || segments[1] == "" {
		return "", false
	}
	return segments[1], true
}
