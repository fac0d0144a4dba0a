// Package roomkey maps chat room ids to the keys used in Redis.
//
// Keys have the form "<prefix>:room:<id>:<kind>", for example
// "chat:room:42:messages".
package roomkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidRoomKey = errors.New("invalid room key")

// Kind is the suffix identifying what a room key stores.
type Kind string

const (
	KindMessages  Kind = "messages"
	KindSequence  Kind = "seq"
	KindSessions  Kind = "sessions"
	KindLastSaved Kind = "last_saved"
)

// Codec encodes and decodes room keys under a fixed prefix.
type Codec struct {
	prefix string
}

// New returns a Codec. An empty prefix defaults to "chat".
func New(prefix string) Codec {
	if prefix == "" {
		prefix = "chat"
	}
	return Codec{prefix: prefix}
}

// Key builds the key of the given kind for a room.
func (c Codec) Key(roomID int64, kind Kind) string {
	return fmt.Sprintf("%s:room:%d:%s", c.prefix, roomID, kind)
}

func (c Codec) Messages(roomID int64) string  { return c.Key(roomID, KindMessages) }
func (c Codec) Sequence(roomID int64) string  { return c.Key(roomID, KindSequence) }
func (c Codec) Sessions(roomID int64) string  { return c.Key(roomID, KindSessions) }
func (c Codec) LastSaved(roomID int64) string { return c.Key(roomID, KindLastSaved) }

// Pattern matches every key of the given kind, for SCAN.
func (c Codec) Pattern(kind Kind) string {
	return fmt.Sprintf("%s:room:*:%s", c.prefix, kind)
}

// Parse extracts the room id and kind from a key produced by Key.
func (c Codec) Parse(key string) (int64, Kind, error) {
	rest, ok := strings.CutPrefix(key, c.prefix+":room:")
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidRoomKey, key)
	}

	idPart, kind, ok := strings.Cut(rest, ":")
	if !ok || kind == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidRoomKey, key)
	}
	switch Kind(kind) {
	case KindMessages, KindSequence, KindSessions, KindLastSaved:
	default:
		return 0, "", fmt.Errorf("%w: unknown kind in %q", ErrInvalidRoomKey, key)
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("%w: bad room id in %q", ErrInvalidRoomKey, key)
	}
	return id, Kind(kind), nil
}

// ParseRoomID parses the room id from a key and checks it has the expected kind.
func (c Codec) ParseRoomID(key string, want Kind) (int64, error) {
	id, kind, err := c.Parse(key)
	if err != nil {
		return 0, err
	}
	if kind != want {
		return 0, fmt.Errorf("%w: want %s key, got %q", ErrInvalidRoomKey, want, key)
	}
	return id, nil
}
