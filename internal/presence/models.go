package presence

import (
	"time"

	"github.com/google/uuid"
)

// Sink is the send side of one live connection. The tracker never owns the
// transport; it holds this capability so broadcasts and connection cycling
// work without reaching into the websocket layer.
type Sink interface {
	Send(msg []byte)
	Close(err error)
}

// Connection is the tracker's view of a single authorized transport
// connection. UserID is resolved at handshake time and never changes.
type Connection struct {
	ID        uuid.UUID
	UserID    string
	IPAddress string
	Sink      Sink
	CreatedAt time.Time
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Entry is a user's live presence while connected. MeetupID is empty for a
// connected user who is not currently in any room; Location is nil until the
// first location update arrives.
type Entry struct {
	UserID   string
	ConnID   uuid.UUID
	MeetupID string
	Location *Location
	LastSeen time.Time
}

// Member is one row of an active-users snapshot.
type Member struct {
	UserID   string
	Location *Location
	LastSeen time.Time
}
