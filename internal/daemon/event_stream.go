package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"camwatch/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsPageSize   = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// StreamSnapshot is the first message on a new event stream. Events that
// follow start after Cursor.
type StreamSnapshot struct {
	Type    string       `json:"type"`
	Cursor  uint64       `json:"cursor"`
	Devices []DeviceView `json:"devices"`
}

func isWebSocketRequest(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// serveEventStream pushes a device snapshot followed by every presentation
// event until the client disconnects or the daemon stops.
func (s *apiServer) serveEventStream(w http.ResponseWriter, r *http.Request) {
	// Take the cursor first so nothing published during the snapshot is lost.
	cursor := s.daemon.events.Cursor()
	devices, err := s.daemon.Devices(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if devices == nil {
		devices = []DeviceView{}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.daemon.streamContext())
	defer cancel()

	send := make(chan []byte, 16)
	if first, err := json.Marshal(StreamSnapshot{Type: "snapshot", Cursor: cursor, Devices: devices}); err == nil {
		send <- first
	}
	go s.readPump(conn, cancel)
	go s.pumpEvents(ctx, cursor, send)
	s.logger.Debug("event stream opened", logging.String("remote", r.RemoteAddr))
	s.writePump(ctx, conn, send)
	s.logger.Debug("event stream closed", logging.String("remote", r.RemoteAddr))
}

// readPump discards client messages and keeps the read deadline fresh. It
// cancels the stream once the peer goes away.
func (s *apiServer) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
	}
}

// pumpEvents feeds encoded events into send until ctx ends.
func (s *apiServer) pumpEvents(ctx context.Context, cursor uint64, send chan<- []byte) {
	for {
		events, next, err := s.daemon.Events(ctx, cursor, wsPageSize, true)
		if err != nil {
			return
		}
		for _, evt := range events {
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to encode event", logging.Error(err))
				continue
			}
			select {
			case send <- data:
			case <-ctx.Done():
				return
			}
		}
		cursor = next
	}
}

// writePump is the only writer on conn.
func (s *apiServer) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "camwatch shutting down"))
			return
		}
	}
}
