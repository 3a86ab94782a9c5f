package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/greenfelt/croupier/internal/services/game/domain/event"
)

const (
	// streamWriteWait bounds a single websocket write.
	streamWriteWait = 10 * time.Second
	// streamPingPeriod keeps idle connections alive through proxies.
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamMessage is the wire envelope for the observer stream.
type streamMessage struct {
	Type       string    `json:"type"`
	TableID    string    `json:"table_id"`
	Seq        uint64    `json:"seq,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	ActorType  string    `json:"actor_type,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Payload    any       `json:"payload,omitempty"`
}

// streamTable upgrades the request and forwards broadcast events for the
// table until the client disconnects. The first message is a full snapshot so
// late joiners do not need a separate bootstrap call.
func (s *Server) streamTable(c *gin.Context) {
	tableID := c.Param("table")

	// The subscription outlives the request context once the connection is
	// hijacked; its lifetime is the write pump's cancel.
	events, cancel, err := s.log.Subscribe(context.Background(), tableID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		log.Printf("api: upgrade stream table=%s: %v", tableID, err)
		return
	}

	go s.writePump(conn, tableID, events, cancel)
	go readPump(conn)
}

func (s *Server) writePump(conn *websocket.Conn, tableID string, events <-chan event.Event, cancel func()) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = conn.Close()
	}()

	if state, err := s.tables.Snapshot(context.Background(), tableID); err == nil {
		msg := streamMessage{Type: "snapshot", TableID: tableID, Payload: state}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			msg := streamMessage{
				Type:       string(evt.Type),
				TableID:    evt.TableID,
				Seq:        evt.Seq,
				Generation: evt.Generation,
				ActorType:  string(evt.ActorType),
				ActorID:    evt.ActorID,
				Timestamp:  evt.Timestamp,
				Payload:    rawPayload(evt),
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func rawPayload(evt event.Event) any {
	if len(evt.PayloadJSON) == 0 {
		return nil
	}
	return json.RawMessage(evt.PayloadJSON)
}

// readPump drains client frames so pong handling works and close frames are
// noticed; observers have nothing to say.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(1024)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			_ = conn.Close()
			return
		}
	}
}
