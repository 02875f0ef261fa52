// Package announce publishes room transitions to NATS so the backend can
// observe live presence without speaking the websocket protocol. Publishing
// is fire-and-forget and never blocks or fails an event handler.
package announce

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/trulo/meetup-presence/internal/presence"
)

type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewPublisher(nc *nats.Conn, subjectPrefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		nc:     nc,
		prefix: subjectPrefix,
		logger: logger.With(slog.String("component", "announce")),
	}
}

type memberSnapshot struct {
	UserID   string             `json:"userId"`
	Location *presence.Location `json:"location,omitempty"`
	LastSeen time.Time          `json:"lastSeen"`
}

type roomEvent struct {
	Type      string           `json:"type"`
	UserID    string           `json:"userId"`
	Room      string           `json:"room"`
	Timestamp time.Time        `json:"timestamp"`
	Members   []memberSnapshot `json:"members"`
}

// RoomEvent publishes a membership snapshot to <prefix>.<meetupID>.
func (p *Publisher) RoomEvent(eventType, meetupID, userID string, members []presence.Member) {
	snapshot := make([]memberSnapshot, 0, len(members))
	for _, m := range members {
		snapshot = append(snapshot, memberSnapshot{
			UserID:   m.UserID,
			Location: m.Location,
			LastSeen: m.LastSeen,
		})
	}
	evt := roomEvent{
		Type:      eventType,
		UserID:    userID,
		Room:      meetupID,
		Timestamp: time.Now().UTC(),
		Members:   snapshot,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("Failed to marshal room event", slog.Any("error", err))
		return
	}
	if err := p.nc.Publish(p.prefix+"."+meetupID, data); err != nil {
		p.logger.Warn("Failed to publish room event", slog.String("room", meetupID), slog.Any("error", err))
		return
	}
	p.logger.Debug("Published room event",
		slog.String("room", meetupID),
		slog.String("type", eventType),
		slog.String("userID", userID),
		slog.Int("members", len(members)),
	)
}
