// Package httpapi exposes the ambient REST surface: a health check and a
// read-only operational snapshot of the room, plus the /ws upgrade route.
// None of this is part of the synchronization core; it exists so an
// operator has something to curl without opening a WebSocket client.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/communityvi/communityvi-sub000/internal/protocol"
	"github.com/communityvi/communityvi-sub000/internal/room"
	"github.com/communityvi/communityvi-sub000/internal/transport/websocket"
)

// Server wraps an Echo instance bound to one Room.
type Server struct {
	echo       *echo.Echo
	room       *room.Room
	serverName string
}

// New constructs the REST/WebSocket HTTP surface for room, reporting
// serverName in the /api/room snapshot for operators running more than
// one instance.
func New(rm *room.Room, serverName string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, room: rm, serverName: serverName}
	e.GET("/health", s.handleHealth)
	e.GET("/api/room", s.handleRoomSnapshot)
	e.GET("/ws", s.handleWebSocket)
	return s
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type roomSnapshot struct {
	ServerName      string                           `json:"server_name"`
	ReferenceTimeMs int64                            `json:"reference_time_ms"`
	Clients         []protocol.ClientInfo            `json:"clients"`
	CurrentMedium   protocol.VersionedMediumResponse `json:"current_medium"`
}

func (s *Server) handleRoomSnapshot(c echo.Context) error {
	roster, currentMedium := s.room.Snapshot()
	return c.JSON(http.StatusOK, roomSnapshot{
		ServerName:      s.serverName,
		ReferenceTimeMs: s.room.ReferenceTimeMs(),
		Clients:         roster,
		CurrentMedium:   protocol.VersionedMediumResponse{Version: currentMedium.Version, Medium: currentMedium.Medium},
	})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	websocket.Handle(c.Response().Writer, c.Request(), s.room)
	return nil
}

// requestLogger logs each request at Debug for noisy paths (/ws, /health)
// and Info otherwise, following the teacher's split between
// traffic-volume and lifecycle-event logging.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.URI == "/ws" || v.URI == "/health" {
				level = slog.LevelDebug
			}
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status}
			if v.Error != nil {
				attrs = append(attrs, "err", v.Error)
			}
			slog.Log(context.Background(), level, "http request", attrs...)
			return nil
		},
	})
}
