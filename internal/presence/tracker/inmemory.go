package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trulo/meetup-presence/internal/presence"
)

// InMemoryTracker keeps all presence state in process memory. One lock guards
// the connection registry, the presence entries and the room directory
// together: every event's registry-plus-directory mutation is a single
// critical section, which is what keeps the membership/currentRoom invariant
// intact under concurrent handlers.
type InMemoryTracker struct {
	mu      sync.RWMutex
	conns   map[uuid.UUID]*presence.Connection
	byUser  map[string]*presence.Connection
	entries map[string]*presence.Entry
	rooms   map[string]map[string]struct{} // meetupID -> member userIDs

	logger *slog.Logger
}

func NewInMemoryTracker(logger *slog.Logger) *InMemoryTracker {
	return &InMemoryTracker{
		conns:   make(map[uuid.UUID]*presence.Connection),
		byUser:  make(map[string]*presence.Connection),
		entries: make(map[string]*presence.Entry),
		rooms:   make(map[string]map[string]struct{}),
		logger:  logger.With(slog.String("component", "presence_tracker")),
	}
}

// compile-time check to ensure InMemoryTracker implements Tracker.
var _ presence.Tracker = (*InMemoryTracker)(nil)

func (t *InMemoryTracker) Register(conn *presence.Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.conns[conn.ID]; exists {
		return presence.ErrConnExists
	}
	t.conns[conn.ID] = conn
	// Last connection wins the personal channel. A prior connection for the
	// same user may still be draining; Disconnect checks ownership so its
	// teardown cannot touch this session.
	t.byUser[conn.UserID] = conn

	t.logger.Debug("Connection registered", slog.String("connID", conn.ID.String()), slog.String("userID", conn.UserID))
	return nil
}

func (t *InMemoryTracker) Deregister(connID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.conns[connID]
	if !ok {
		return
	}
	delete(t.conns, connID)
	if cur, ok := t.byUser[conn.UserID]; ok && cur.ID == connID {
		delete(t.byUser, conn.UserID)
	}
	t.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
}

func (t *InMemoryTracker) Conn(connID uuid.UUID) (*presence.Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.conns[connID]
	return conn, ok
}

func (t *InMemoryTracker) UserConn(userID string) (*presence.Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.byUser[userID]
	return conn, ok
}

func (t *InMemoryTracker) Join(userID string, connID uuid.UUID, meetupID string, now time.Time) ([]presence.Sink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.conns[connID]; !ok {
		return nil, presence.ErrUnknownConn
	}

	room, exists := t.rooms[meetupID]
	if !exists {
		room = make(map[string]struct{})
		t.rooms[meetupID] = room
	}
	room[userID] = struct{}{}

	entry, ok := t.entries[userID]
	if !ok {
		entry = &presence.Entry{UserID: userID}
		t.entries[userID] = entry
	}
	entry.ConnID = connID
	entry.MeetupID = meetupID
	entry.LastSeen = now

	t.logger.Debug("User joined room", slog.String("userID", userID), slog.String("roomID", meetupID))
	return t.roomSinksLocked(meetupID, connID), nil
}

func (t *InMemoryTracker) Leave(userID, meetupID string, now time.Time) ([]presence.Sink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(userID, meetupID, now)
}

func (t *InMemoryTracker) leaveLocked(userID, meetupID string, now time.Time) ([]presence.Sink, bool) {
	room, ok := t.rooms[meetupID]
	if !ok {
		return nil, false
	}
	if _, member := room[userID]; !member {
		return nil, false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(t.rooms, meetupID)
		t.logger.Debug("Removed empty room", slog.String("roomID", meetupID))
	}

	if entry, ok := t.entries[userID]; ok && entry.MeetupID == meetupID {
		entry.MeetupID = ""
		entry.LastSeen = now
	}

	t.logger.Debug("User left room", slog.String("userID", userID), slog.String("roomID", meetupID))
	var exclude uuid.UUID
	if conn, ok := t.byUser[userID]; ok {
		exclude = conn.ID
	}
	return t.roomSinksLocked(meetupID, exclude), true
}

func (t *InMemoryTracker) Disconnect(connID uuid.UUID) (string, string, []presence.Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.conns[connID]
	if !ok {
		return "", "", nil
	}
	delete(t.conns, connID)
	userID := conn.UserID
	if cur, ok := t.byUser[userID]; ok && cur.ID == connID {
		delete(t.byUser, userID)
	}

	entry, ok := t.entries[userID]
	if !ok || entry.ConnID != connID {
		// The entry belongs to a newer connection for this user; this
		// teardown must not touch it.
		return userID, "", nil
	}

	meetupID := entry.MeetupID
	delete(t.entries, userID)

	var remaining []presence.Sink
	if meetupID != "" {
		if room, ok := t.rooms[meetupID]; ok {
			delete(room, userID)
			if len(room) == 0 {
				delete(t.rooms, meetupID)
				t.logger.Debug("Removed empty room", slog.String("roomID", meetupID))
			}
		}
		remaining = t.roomSinksLocked(meetupID, connID)
	}

	t.logger.Debug("Presence removed on disconnect", slog.String("userID", userID), slog.String("connID", connID.String()))
	return userID, meetupID, remaining
}

func (t *InMemoryTracker) UpdateLocation(userID string, loc presence.Location, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[userID]
	if !ok {
		return false
	}
	entry.Location = &loc
	entry.LastSeen = now
	return true
}

func (t *InMemoryTracker) Touch(userID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[userID]; ok {
		entry.LastSeen = now
	}
}

func (t *InMemoryTracker) RoomSinks(meetupID string, exclude uuid.UUID) []presence.Sink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roomSinksLocked(meetupID, exclude)
}

func (t *InMemoryTracker) roomSinksLocked(meetupID string, exclude uuid.UUID) []presence.Sink {
	room, ok := t.rooms[meetupID]
	if !ok {
		return nil
	}
	sinks := make([]presence.Sink, 0, len(room))
	for uid := range room {
		conn, ok := t.byUser[uid]
		if !ok || conn.ID == exclude || conn.Sink == nil {
			continue
		}
		sinks = append(sinks, conn.Sink)
	}
	return sinks
}

func (t *InMemoryTracker) ActiveUsers(meetupID string) []presence.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room, ok := t.rooms[meetupID]
	if !ok {
		return []presence.Member{}
	}
	members := make([]presence.Member, 0, len(room))
	for uid := range room {
		entry, ok := t.entries[uid]
		if !ok {
			continue
		}
		var loc *presence.Location
		if entry.Location != nil {
			l := *entry.Location
			loc = &l
		}
		members = append(members, presence.Member{
			UserID:   uid,
			Location: loc,
			LastSeen: entry.LastSeen,
		})
	}
	return members
}

func (t *InMemoryTracker) Entry(userID string) (presence.Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[userID]
	if !ok {
		return presence.Entry{}, false
	}
	out := *entry
	if entry.Location != nil {
		l := *entry.Location
		out.Location = &l
	}
	return out, true
}

func (t *InMemoryTracker) Conns() []*presence.Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := make([]*presence.Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	return conns
}

func (t *InMemoryTracker) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

func (t *InMemoryTracker) ConnCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
