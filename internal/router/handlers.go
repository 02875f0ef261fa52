package router

import (
	"log/slog"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"github.com/trulo/meetup-presence/internal/presence"
)

// meetupIDFrom accepts both payload shapes the mobile client emits: a bare
// JSON string, or an object with a meetupId field.
func meetupIDFrom(payload []byte) string {
	parsed := gjson.ParseBytes(payload)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	return parsed.Get("meetupId").String()
}

func (r *EventRouter) handleJoin(conn *presence.Connection, payload []byte) {
	meetupID := meetupIDFrom(payload)
	if meetupID == "" {
		r.logger.Warn("join_meetup with empty meetupId", slog.String("userID", conn.UserID))
		return
	}
	now := time.Now().UTC()

	// Joining a new room while still in another is an implicit leave of the
	// old one; membership and the entry's room move together.
	if entry, ok := r.tracker.Entry(conn.UserID); ok && entry.MeetupID != "" && entry.MeetupID != meetupID {
		if remaining, left := r.tracker.Leave(conn.UserID, entry.MeetupID, now); left {
			r.notifyLeft(entry.MeetupID, conn.UserID, remaining)
		}
	}

	others, err := r.tracker.Join(conn.UserID, conn.ID, meetupID, now)
	if err != nil {
		r.logger.Error("Join failed", slog.String("userID", conn.UserID), slog.String("roomID", meetupID), slog.Any("error", err))
		return
	}
	r.logger.Info("User joined meetup", slog.String("userID", conn.UserID), slog.String("roomID", meetupID))

	notification := RoomNotification{UserID: conn.UserID, Timestamp: now}
	if err := r.broadcaster.Broadcast(others, EventUserJoined, notification); err != nil {
		r.logger.Error("user_joined broadcast failed", slog.Any("error", err))
	}
	if r.announcer != nil {
		r.announcer.RoomEvent("join", meetupID, conn.UserID, r.tracker.ActiveUsers(meetupID))
	}
}

func (r *EventRouter) handleLocationUpdate(conn *presence.Connection, payload []byte) {
	parsed := gjson.ParseBytes(payload)
	meetupID := parsed.Get("meetupId").String()
	lat := parsed.Get("latitude")
	lon := parsed.Get("longitude")
	if meetupID == "" || lat.Type != gjson.Number || lon.Type != gjson.Number {
		r.logger.Warn("Malformed location_update", slog.String("userID", conn.UserID))
		return
	}
	loc := presence.Location{Latitude: lat.Float(), Longitude: lon.Float()}
	if math.IsNaN(loc.Latitude) || math.IsInf(loc.Latitude, 0) ||
		math.IsNaN(loc.Longitude) || math.IsInf(loc.Longitude, 0) {
		r.logger.Warn("Non-finite coordinates in location_update", slog.String("userID", conn.UserID))
		return
	}

	now := time.Now().UTC()
	if !r.tracker.UpdateLocation(conn.UserID, loc, now) {
		// Update before any join: no entry to target, drop silently.
		r.logger.Debug("Dropping orphaned location_update", slog.String("userID", conn.UserID))
		return
	}

	// Routing trusts the payload's meetupId rather than the recorded room;
	// the client fires updates before the join ack lands.
	others := r.tracker.RoomSinks(meetupID, conn.ID)
	notification := LocationNotification{
		UserID:    conn.UserID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Timestamp: now,
	}
	if err := r.broadcaster.Broadcast(others, EventLocationUpdated, notification); err != nil {
		r.logger.Error("location_updated broadcast failed", slog.Any("error", err))
	}
}

func (r *EventRouter) handleLeave(conn *presence.Connection, payload []byte) {
	meetupID := meetupIDFrom(payload)
	if meetupID == "" {
		r.logger.Warn("leave_meetup with empty meetupId", slog.String("userID", conn.UserID))
		return
	}
	now := time.Now().UTC()

	remaining, left := r.tracker.Leave(conn.UserID, meetupID, now)
	if !left {
		r.logger.Debug("leave_meetup for room user is not in", slog.String("userID", conn.UserID), slog.String("roomID", meetupID))
		return
	}
	r.logger.Info("User left meetup", slog.String("userID", conn.UserID), slog.String("roomID", meetupID))
	r.notifyLeft(meetupID, conn.UserID, remaining)
}

func (r *EventRouter) handleActiveUsers(conn *presence.Connection, payload []byte) {
	meetupID := meetupIDFrom(payload)
	if meetupID == "" {
		r.logger.Warn("get_active_users with empty meetupId", slog.String("userID", conn.UserID))
		return
	}
	r.tracker.Touch(conn.UserID, time.Now().UTC())

	members := r.tracker.ActiveUsers(meetupID)
	response := make([]ActiveUser, 0, len(members))
	for _, m := range members {
		response = append(response, ActiveUser{
			UserID:   m.UserID,
			Location: m.Location,
			LastSeen: m.LastSeen,
		})
	}
	if err := r.broadcaster.Reply(conn.Sink, EventActiveUsers, response); err != nil {
		r.logger.Error("active_users reply failed", slog.Any("error", err))
	}
}

// notifyLeft is the shared tail of explicit leave, implicit leave-on-rejoin
// and disconnect cleanup.
func (r *EventRouter) notifyLeft(meetupID, userID string, remaining []presence.Sink) {
	notification := RoomNotification{UserID: userID, Timestamp: time.Now().UTC()}
	if err := r.broadcaster.Broadcast(remaining, EventUserLeft, notification); err != nil {
		r.logger.Error("user_left broadcast failed", slog.Any("error", err))
	}
	if r.announcer != nil {
		r.announcer.RoomEvent("leave", meetupID, userID, r.tracker.ActiveUsers(meetupID))
	}
}
