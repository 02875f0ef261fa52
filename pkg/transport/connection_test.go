package transport_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/trulo/meetup-presence/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// A Connection over a nil websocket can still be constructed and torn down;
// this is the shape the tracker tests rely on.
func TestCloseIsIdempotent(t *testing.T) {
	var wg sync.WaitGroup
	conn := transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{}, newTestLogger())

	var closeCalls int
	var cause error
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		closeCalls++
		cause = err
		if id != conn.ID() {
			t.Errorf("Close handler got ID %s, want %s", id, conn.ID())
		}
	})

	first := errors.New("first close")
	conn.Close(first)
	conn.Close(errors.New("second close"))

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done channel not closed after Close")
	}
	if closeCalls != 1 {
		t.Errorf("Close handler ran %d times, want 1", closeCalls)
	}
	if cause != first {
		t.Errorf("Close handler saw cause %v, want the first close's cause", cause)
	}
	wg.Wait() // WaitGroup must balance even though Run never started.
}

func TestSendAfterCloseDoesNotPanic(t *testing.T) {
	var wg sync.WaitGroup
	conn := transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{SendBuffer: 1}, newTestLogger())
	conn.Close(nil)

	conn.Send([]byte("late message"))
	conn.Send([]byte("another late message"))
}
