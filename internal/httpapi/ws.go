package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"lineage/internal/fanout"
)

// Transport-level timing, mirrored from the sibling example's websocket
// client (kubilitics-backend/internal/api/websocket/client.go): pongWait
// bounds how long a read pump waits for a pong before the connection is
// considered dead, writeWait bounds a single frame write.
const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWSLogs(c echo.Context) error {
	sub := fanout.Subscription{Topic: fanout.TopicLogs, Service: c.QueryParam("service")}
	return s.serveWS(c, sub)
}

func (s *Server) handleWSMetrics(c echo.Context) error {
	return s.serveWS(c, fanout.Subscription{Topic: fanout.TopicMetrics})
}

func (s *Server) handleWSSession(c echo.Context) error {
	sub := fanout.Subscription{Topic: fanout.TopicSession, Session: c.Param("id")}
	return s.serveWS(c, sub)
}

// serveWS upgrades the HTTP connection, registers a fanout.Client with the
// hub, and runs its read/write pumps. Generalizes the sibling example's
// ServeWS/ReadPump/WritePump trio to this package's transport-agnostic
// fanout.Client (which owns only the send channel and backpressure logic,
// not the websocket frame plumbing).
func (s *Server) serveWS(c echo.Context, sub fanout.Subscription) error {
	conn, err := upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "websocket upgrade failed", err)
	}

	client := fanout.NewClient(c.Request().RemoteAddr+":"+sub.Topic, sub)
	if err := s.deps.Hub.Register(c.Request().Context(), client); err != nil {
		conn.Close()
		return logAndRespondError(c, http.StatusInternalServerError, "websocket registration failed", err)
	}

	go writePump(conn, client)
	readPump(conn, client, s.deps.Hub)
	return nil
}

func writePump(conn *websocket.Conn, client *fanout.Client) {
	defer conn.Close()
	for msg := range client.Send() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		data, err := fanout.Encode(msg)
		if err != nil {
			log.Warn().Err(err).Msg("httpapi: failed to encode fanout message")
			continue
		}
		if msg.Type == "heartbeat" {
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func readPump(conn *websocket.Conn, client *fanout.Client, hub *fanout.Hub) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		client.Pong()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
