package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/trulo/meetup-presence/internal/auth"
	"github.com/trulo/meetup-presence/internal/presence"
	"github.com/trulo/meetup-presence/internal/presence/tracker"
	"github.com/trulo/meetup-presence/internal/router"
	"github.com/trulo/meetup-presence/internal/server/middleware"
	"github.com/trulo/meetup-presence/pkg/config"
	"github.com/trulo/meetup-presence/pkg/transport"
)

type App struct {
	logger      *slog.Logger
	tracker     presence.Tracker
	eventRouter *router.EventRouter
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, validator auth.TokenValidator, users auth.UserStore, announcer router.Announcer) *App {
	presenceTracker := tracker.NewInMemoryTracker(logger)
	broadcaster := router.NewBroadcaster(logger)
	eventRouter := router.NewEventRouter(logger, presenceTracker, broadcaster, announcer)

	app := &App{
		logger:      logger,
		tracker:     presenceTracker,
		eventRouter: eventRouter,
		config:      cfg,
		ctx:         rootCtx,
	}

	meter := otel.Meter("presence-server")
	connGauge, _ := meter.Int64ObservableGauge("presence_connections",
		metric.WithDescription("Live websocket connections"))
	roomGauge, _ := meter.Int64ObservableGauge("presence_rooms",
		metric.WithDescription("Rooms with at least one member"))
	meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(connGauge, int64(presenceTracker.ConnCount()))
		o.ObserveInt64(roomGauge, int64(presenceTracker.RoomCount()))
		return nil
	}, connGauge, roomGauge)

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, validator, users, cfg.Server.HandshakeTimeout),
			middleware.NewSessionCycler(logger, presenceTracker.UserConn),
		),
	)

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.HandshakeTimeout,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.UserID == "" {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		a.ctx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout:  a.config.Transport.ReadTimeout,
			WriteTimeout: a.config.Transport.WriteTimeout,
			SendBuffer:   a.config.Transport.SendBuffer,
		},
		a.logger,
	)

	record := &presence.Connection{
		ID:        conn.ID(),
		UserID:    reqMeta.UserID,
		IPAddress: reqMeta.IP,
		Sink:      conn,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.tracker.Register(record); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(a.eventRouter.HandleDisconnect)

	connLogger.Info("User connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.tracker.Conns() {
		conn.Sink.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
