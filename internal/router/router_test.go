package router_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trulo/meetup-presence/internal/presence"
	"github.com/trulo/meetup-presence/internal/presence/tracker"
	"github.com/trulo/meetup-presence/internal/router"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []router.ClientMessage
}

func (s *fakeSink) Send(msg []byte) {
	var decoded router.ClientMessage
	if err := json.Unmarshal(msg, &decoded); err != nil {
		panic(fmt.Sprintf("sink received unparseable message: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, decoded)
}

func (s *fakeSink) Close(error) {}

func (s *fakeSink) received() []router.ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]router.ClientMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *fakeSink) last(t *testing.T) router.ClientMessage {
	t.Helper()
	msgs := s.received()
	if len(msgs) == 0 {
		t.Fatal("Expected at least one delivered message")
	}
	return msgs[len(msgs)-1]
}

type announceCall struct {
	eventType string
	meetupID  string
	userID    string
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls []announceCall
}

func (a *fakeAnnouncer) RoomEvent(eventType, meetupID, userID string, _ []presence.Member) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, announceCall{eventType, meetupID, userID})
}

type fixture struct {
	router    *router.EventRouter
	tracker   *tracker.InMemoryTracker
	announcer *fakeAnnouncer
}

func newFixture() *fixture {
	logger := newTestLogger()
	trk := tracker.NewInMemoryTracker(logger)
	ann := &fakeAnnouncer{}
	return &fixture{
		router:    router.NewEventRouter(logger, trk, router.NewBroadcaster(logger), ann),
		tracker:   trk,
		announcer: ann,
	}
}

func (f *fixture) connect(t *testing.T, userID string) (*presence.Connection, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	conn := &presence.Connection{
		ID:        uuid.New(),
		UserID:    userID,
		IPAddress: "127.0.0.1",
		Sink:      sink,
		CreatedAt: time.Now(),
	}
	if err := f.tracker.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return conn, sink
}

func (f *fixture) send(connID uuid.UUID, event, payload string) {
	msg := fmt.Sprintf(`{"event":%q,"payload":%s}`, event, payload)
	f.router.HandleMessage(context.Background(), connID, []byte(msg))
}

// TestMeetupRoomScenario walks the full protocol: two users meet in a room,
// stream a location, query the roster, then drop out one by one.
func TestMeetupRoomScenario(t *testing.T) {
	f := newFixture()
	connA, sinkA := f.connect(t, "alice")
	connB, sinkB := f.connect(t, "bob")

	// alice joins an empty room: nothing to broadcast.
	f.send(connA.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)
	if len(sinkA.received()) != 0 || len(sinkB.received()) != 0 {
		t.Fatal("First join must not deliver anything")
	}

	// bob joins: alice is notified, bob is not.
	f.send(connB.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)
	joined := sinkA.last(t)
	if joined.Event != router.EventUserJoined {
		t.Fatalf("Expected user_joined, got %s", joined.Event)
	}
	var joinPayload router.RoomNotification
	json.Unmarshal(joined.Payload, &joinPayload)
	if joinPayload.UserID != "bob" {
		t.Errorf("user_joined names %q, want bob", joinPayload.UserID)
	}
	if len(sinkB.received()) != 0 {
		t.Error("Join notification leaked back to its originator")
	}

	// bob streams a location: alice receives it with the coordinates.
	f.send(connB.ID, router.EventLocationUpdate, `{"meetupId":"M1","latitude":10.0,"longitude":20.0}`)
	located := sinkA.last(t)
	if located.Event != router.EventLocationUpdated {
		t.Fatalf("Expected location_updated, got %s", located.Event)
	}
	var locPayload router.LocationNotification
	json.Unmarshal(located.Payload, &locPayload)
	if locPayload.UserID != "bob" || locPayload.Latitude != 10.0 || locPayload.Longitude != 20.0 {
		t.Errorf("location_updated payload wrong: %+v", locPayload)
	}

	// alice asks for the roster: requester-only reply, absent location kept.
	f.send(connA.ID, router.EventGetActiveUsers, `{"meetupId":"M1"}`)
	roster := sinkA.last(t)
	if roster.Event != router.EventActiveUsers {
		t.Fatalf("Expected active_users, got %s", roster.Event)
	}
	var members []router.ActiveUser
	json.Unmarshal(roster.Payload, &members)
	if len(members) != 2 {
		t.Fatalf("Expected 2 roster entries, got %d", len(members))
	}
	byID := make(map[string]router.ActiveUser)
	for _, m := range members {
		byID[m.UserID] = m
	}
	if byID["alice"].Location != nil {
		t.Error("alice has not sent a location; roster must show none")
	}
	if loc := byID["bob"].Location; loc == nil || loc.Latitude != 10.0 || loc.Longitude != 20.0 {
		t.Errorf("bob's roster location wrong: %+v", loc)
	}
	for _, m := range sinkB.received() {
		if m.Event == router.EventActiveUsers {
			t.Error("active_users reply was broadcast instead of requester-only")
		}
	}

	// bob drops: alice gets user_left, presence and membership go with him.
	f.router.HandleDisconnect(connB.ID, fmt.Errorf("transport loss"))
	left := sinkA.last(t)
	if left.Event != router.EventUserLeft {
		t.Fatalf("Expected user_left, got %s", left.Event)
	}
	var leftPayload router.RoomNotification
	json.Unmarshal(left.Payload, &leftPayload)
	if leftPayload.UserID != "bob" {
		t.Errorf("user_left names %q, want bob", leftPayload.UserID)
	}
	if _, ok := f.tracker.Entry("bob"); ok {
		t.Error("Presence entry survived disconnect")
	}

	// alice leaves last: the room disappears.
	f.send(connA.ID, router.EventLeaveMeetup, `{"meetupId":"M1"}`)
	if f.tracker.RoomCount() != 0 {
		t.Error("Room survived after its last member left")
	}
	if _, ok := f.tracker.Entry("alice"); !ok {
		t.Error("Explicit leave must keep the presence entry")
	}
}

func TestOrphanedLocationUpdateIsDropped(t *testing.T) {
	f := newFixture()
	connA, _ := f.connect(t, "alice")
	connB, sinkB := f.connect(t, "bob")
	f.send(connB.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)

	// alice never joined: no state write, no broadcast, no error back.
	f.send(connA.ID, router.EventLocationUpdate, `{"meetupId":"M1","latitude":1.0,"longitude":2.0}`)
	if _, ok := f.tracker.Entry("alice"); ok {
		t.Error("Orphaned update created a presence entry")
	}
	for _, m := range sinkB.received() {
		if m.Event == router.EventLocationUpdated {
			t.Error("Orphaned update was broadcast")
		}
	}
}

func TestActiveUsersOnUnknownRoom(t *testing.T) {
	f := newFixture()
	connA, sinkA := f.connect(t, "alice")

	f.send(connA.ID, router.EventGetActiveUsers, `{"meetupId":"empty-room"}`)
	reply := sinkA.last(t)
	if reply.Event != router.EventActiveUsers {
		t.Fatalf("Expected active_users, got %s", reply.Event)
	}
	var members []router.ActiveUser
	if err := json.Unmarshal(reply.Payload, &members); err != nil {
		t.Fatalf("Reply payload not a list: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("Unknown room must yield an empty roster, got %d", len(members))
	}
}

func TestRepeatJoinRenotifies(t *testing.T) {
	f := newFixture()
	connA, sinkA := f.connect(t, "alice")
	connB, _ := f.connect(t, "bob")
	f.send(connA.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)
	f.send(connB.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)
	f.send(connB.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)

	var joins int
	for _, m := range sinkA.received() {
		if m.Event == router.EventUserJoined {
			joins++
		}
	}
	if joins != 2 {
		t.Errorf("Duplicate join should re-emit user_joined: got %d notifications", joins)
	}
	if got := len(f.tracker.ActiveUsers("M1")); got != 2 {
		t.Errorf("Duplicate join broke set semantics: %d members", got)
	}
}

func TestJoinSwitchesRooms(t *testing.T) {
	f := newFixture()
	connA, sinkA := f.connect(t, "alice")
	connB, _ := f.connect(t, "bob")
	f.send(connA.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)
	f.send(connB.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)

	// bob moves to another meetup: M1 sees a user_left, M1 loses him.
	f.send(connB.ID, router.EventJoinMeetup, `{"meetupId":"M2"}`)
	left := sinkA.last(t)
	if left.Event != router.EventUserLeft {
		t.Fatalf("Expected user_left on room switch, got %s", left.Event)
	}
	if got := len(f.tracker.ActiveUsers("M1")); got != 1 {
		t.Errorf("Old room kept the switched user: %d members", got)
	}
	if got := len(f.tracker.ActiveUsers("M2")); got != 1 {
		t.Errorf("New room missing the switched user: %d members", got)
	}
}

func TestMalformedAndUnknownMessages(t *testing.T) {
	f := newFixture()
	connA, sinkA := f.connect(t, "alice")

	f.router.HandleMessage(context.Background(), connA.ID, []byte("not json"))
	f.send(connA.ID, "no_such_event", `{}`)
	f.send(connA.ID, router.EventJoinMeetup, `{}`)
	f.send(connA.ID, router.EventLocationUpdate, `{"meetupId":"M1","latitude":"north","longitude":5}`)

	if len(sinkA.received()) != 0 {
		t.Error("Malformed traffic produced deliveries")
	}
	if f.tracker.RoomCount() != 0 {
		t.Error("Malformed traffic mutated the room directory")
	}
}

func TestDisconnectWithoutJoin(t *testing.T) {
	f := newFixture()
	connA, _ := f.connect(t, "alice")

	// Connected but never joined: teardown has no room to notify.
	f.router.HandleDisconnect(connA.ID, nil)
	if f.tracker.ConnCount() != 0 {
		t.Error("Disconnect left the connection registered")
	}
	if len(f.announcer.calls) != 0 {
		t.Error("Disconnect without a room produced an announcement")
	}
}

func TestAnnouncerObservesTransitions(t *testing.T) {
	f := newFixture()
	connA, _ := f.connect(t, "alice")
	f.send(connA.ID, router.EventJoinMeetup, `{"meetupId":"M1"}`)
	f.send(connA.ID, router.EventLeaveMeetup, `{"meetupId":"M1"}`)

	if len(f.announcer.calls) != 2 {
		t.Fatalf("Expected 2 announcements, got %d", len(f.announcer.calls))
	}
	if f.announcer.calls[0] != (announceCall{"join", "M1", "alice"}) {
		t.Errorf("Unexpected join announcement: %+v", f.announcer.calls[0])
	}
	if f.announcer.calls[1] != (announceCall{"leave", "M1", "alice"}) {
		t.Errorf("Unexpected leave announcement: %+v", f.announcer.calls[1])
	}
}
