// Package room validates room identifiers and maps them to storage
// locations.
package room

import (
	"errors"
	"path/filepath"
	"strconv"
)

// IDLength is the exact length of a room identifier.
const IDLength = 16

// ErrInvalidRoom is returned for identifiers that are not 16 lowercase
// hex digits.
var ErrInvalidRoom = errors.New("invalid room")

// Room is a validated room identifier.
type Room string

// Validate checks the shape of id. It never touches storage.
func Validate(id string) (Room, error) {
	if len(id) != IDLength {
		return "", ErrInvalidRoom
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", ErrInvalidRoom
		}
	}
	return Room(id), nil
}

// String returns the identifier.
func (r Room) String() string {
	return string(r)
}

// Dir returns the room's directory under root.
func (r Room) Dir(root string) string {
	return filepath.Join(root, string(r))
}

// MessagePath returns the path of the record for message id under root.
func (r Room) MessagePath(root string, id uint64) string {
	return filepath.Join(r.Dir(root), RecordName(id))
}

// RecordName is the file name a message record is stored under.
func RecordName(id uint64) string {
	return strconv.FormatUint(id, 10) + ".json"
}

// Key returns a namespaced key for key-value backends, e.g.
// "room:0123456789abcdef:messages".
func (r Room) Key(suffix string) string {
	return "room:" + string(r) + ":" + suffix
}
