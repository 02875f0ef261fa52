package router

import (
	"encoding/json"
	"time"

	"github.com/trulo/meetup-presence/internal/presence"
)

// ClientMessage is the wire envelope in both directions.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event names.
const (
	EventJoinMeetup     = "join_meetup"
	EventLocationUpdate = "location_update"
	EventLeaveMeetup    = "leave_meetup"
	EventGetActiveUsers = "get_active_users"
)

// Outbound event names.
const (
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventLocationUpdated = "location_updated"
	EventActiveUsers     = "active_users"
)

// RoomNotification is the payload of user_joined and user_left.
type RoomNotification struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationNotification is the payload of location_updated.
type LocationNotification struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveUser is one element of an active_users response. Location stays
// absent for members who have not sent a location yet.
type ActiveUser struct {
	UserID   string             `json:"userId"`
	Location *presence.Location `json:"location,omitempty"`
	LastSeen time.Time          `json:"lastSeen"`
}
