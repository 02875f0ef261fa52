package presence

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConnExists  = errors.New("connection is already registered")
	ErrUnknownConn = errors.New("connection is not registered")
)

// Tracker is the shared presence state: the registry of live connections and
// entries plus the room directory. Every mutating method is one atomic step;
// methods that trigger a broadcast return the send capabilities of the
// affected room members, snapshotted inside that same step, so callers fan
// out without holding any tracker lock.
type Tracker interface {
	// --- Connection lifecycle ---
	Register(conn *Connection) error
	Deregister(connID uuid.UUID)
	Conn(connID uuid.UUID) (*Connection, bool)
	// UserConn is the personal channel: the user's current live connection.
	UserConn(userID string) (*Connection, bool)

	// --- Rooms & presence ---
	// Join adds the user to the room (creating it on first join), upserts
	// the presence entry and returns the other members' sinks. Callers
	// joining a user who is already in a different room must Leave the old
	// room first, so membership and the entry's room move together.
	Join(userID string, connID uuid.UUID, meetupID string, now time.Time) ([]Sink, error)
	// Leave removes the user from the room, reaping it when empty, and
	// returns the remaining members' sinks. The presence entry survives
	// with its room cleared. Reports false when the user was not a member.
	Leave(userID, meetupID string, now time.Time) ([]Sink, bool)
	// Disconnect is the implicit leave on transport loss: room cleanup as
	// in Leave, then full entry removal. It is a no-op when connID no
	// longer owns the user's entry (the connection was cycled out).
	Disconnect(connID uuid.UUID) (userID, meetupID string, remaining []Sink)
	// UpdateLocation overwrites the user's location and lastSeen. Reports
	// false when the user has no presence entry (update before any join).
	UpdateLocation(userID string, loc Location, now time.Time) bool
	// Touch refreshes lastSeen for read-only events.
	Touch(userID string, now time.Time)

	// RoomSinks snapshots the sinks of a room's members, excluding the
	// given connection. Unknown rooms yield an empty slice.
	RoomSinks(meetupID string, exclude uuid.UUID) []Sink
	// ActiveUsers snapshots the room's members with their last known
	// location and lastSeen. Unknown rooms yield an empty slice.
	ActiveUsers(meetupID string) []Member

	Entry(userID string) (Entry, bool)
	Conns() []*Connection
	RoomCount() int
	ConnCount() int
}
