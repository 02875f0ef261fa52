package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/trulo/meetup-presence/internal/presence"
)

// Announcer publishes room transitions for external observers. Implemented by
// the NATS announcer; nil disables announcing.
type Announcer interface {
	RoomEvent(eventType, meetupID, userID string, members []presence.Member)
}

// EventRouter dispatches inbound client events to their handlers. Handlers
// mutate the tracker in one atomic step each and fan resulting events out
// through the broadcaster; the authenticated user always comes from the
// connection record set at handshake time, never from the payload.
type EventRouter struct {
	logger      *slog.Logger
	tracker     presence.Tracker
	broadcaster *Broadcaster
	announcer   Announcer

	handled metric.Int64Counter
}

func NewEventRouter(logger *slog.Logger, tracker presence.Tracker, broadcaster *Broadcaster, announcer Announcer) *EventRouter {
	meter := otel.Meter("presence-router")
	handled, _ := meter.Int64Counter("presence_events_handled_total",
		metric.WithDescription("Inbound client events handled, by kind"))

	return &EventRouter{
		logger:      logger.With(slog.String("component", "event_router")),
		tracker:     tracker,
		broadcaster: broadcaster,
		announcer:   announcer,
		handled:     handled,
	}
}

// HandleMessage is the transport's message callback.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}

	conn, ok := r.tracker.Conn(connID)
	if !ok {
		r.logger.Error("Received event for unregistered connection", slog.String("connID", connID.String()))
		return
	}

	r.handled.Add(ctx, 1, metric.WithAttributes(attribute.String("event", clientMsg.Event)))

	switch clientMsg.Event {
	case EventJoinMeetup:
		r.handleJoin(conn, clientMsg.Payload)
	case EventLocationUpdate:
		r.handleLocationUpdate(conn, clientMsg.Payload)
	case EventLeaveMeetup:
		r.handleLeave(conn, clientMsg.Payload)
	case EventGetActiveUsers:
		r.handleActiveUsers(conn, clientMsg.Payload)
	default:
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
	}
}

// HandleDisconnect is the transport's close callback: an implicit leave of
// the user's current room followed by full presence removal.
func (r *EventRouter) HandleDisconnect(connID uuid.UUID, cause error) {
	userID, meetupID, remaining := r.tracker.Disconnect(connID)
	if userID == "" {
		return
	}
	r.logger.Info("User disconnected",
		slog.String("userID", userID),
		slog.String("connID", connID.String()),
		slog.Any("cause", cause),
	)
	if meetupID == "" {
		return
	}
	r.notifyLeft(meetupID, userID, remaining)
}
