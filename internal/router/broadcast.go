package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/trulo/meetup-presence/internal/presence"
)

// Broadcaster fans one outbound event out to a snapshot of room members. The
// snapshot comes from the tracker's atomic step, so sends happen outside any
// tracker lock; a member who left after the snapshot receives at most one
// stale event.
type Broadcaster struct {
	logger    *slog.Logger
	delivered metric.Int64Counter
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	meter := otel.Meter("presence-router")
	delivered, _ := meter.Int64Counter("presence_broadcasts_delivered_total",
		metric.WithDescription("Outbound events delivered to room members"))

	return &Broadcaster{
		logger:    logger.With(slog.String("component", "broadcaster")),
		delivered: delivered,
	}
}

// Broadcast marshals the event once and queues it on every sink.
func (b *Broadcaster) Broadcast(sinks []presence.Sink, event string, payload any) error {
	if len(sinks) == 0 {
		return nil
	}
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	for _, sink := range sinks {
		sink.Send(msg)
	}
	b.delivered.Add(context.Background(), int64(len(sinks)),
		metric.WithAttributes(attribute.String("event", event)))
	b.logger.Debug("Broadcast delivered", slog.String("event", event), slog.Int("recipients", len(sinks)))
	return nil
}

// Reply sends an event to a single sink, used for requester-only responses.
func (b *Broadcaster) Reply(sink presence.Sink, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	sink.Send(msg)
	return nil
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(ClientMessage{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}
	return msg, nil
}
