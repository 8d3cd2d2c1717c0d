package chat

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is the server-side record of one live connection, bound to one
// authenticated user. It is created by the gateway after a successful
// handshake and destroyed exactly once on disconnect, clean or not. A
// reconnecting client always gets a fresh Session with a new connection id.
type Session struct {
	id       string
	origin   Origin
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	teardown sync.Once
}

func newSession(g *Gateway, conn *websocket.Conn, origin Origin) *Session {
	return &Session{
		id:      uuid.NewString(),
		origin:  origin,
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, g.cfg.SendQueue),
		done:    make(chan struct{}),
	}
}

// ConnectionID returns the session's unique connection id.
func (s *Session) ConnectionID() string { return s.id }

// Deliver implements Subscriber. It never blocks: a full outbound buffer
// means the consumer has stalled and the broker will drop us.
func (s *Session) Deliver(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// CloseSlow implements Subscriber. Closing the transport makes readPump
// fail, which runs the normal disconnect path.
func (s *Session) CloseSlow() {
	log.Printf("session %s: dropped as slow consumer (user %d)", s.id, s.origin.UserID)
	s.conn.Close()
}

func (s *Session) sendEvent(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("session %s: encode %s event: %v", s.id, ev.Type, err)
		return
	}
	s.Deliver(payload)
}

// close runs the disconnect path exactly once: unsubscribe, presence
// offline, forget, transport close.
func (s *Session) close() {
	s.teardown.Do(func() {
		close(s.done)
		s.gateway.broker.Unsubscribe(s.gateway.topic, s)
		s.gateway.presence.SetOffline(s.origin.UserID)
		s.gateway.forget(s)
		s.conn.Close()
	})
}

// readPump pumps frames from the connection into the router. Commands from
// this session are dispatched one at a time, in arrival order. The read
// deadline doubles as the heartbeat timeout: a peer that stops answering
// pings gets torn down no later than PongWait after its last pong.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(s.gateway.cfg.MaxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(s.gateway.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.gateway.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("session %s: read: %v", s.id, err)
			}
			return
		}
		if rejection := s.gateway.router.Dispatch(s.origin, frame); rejection != nil {
			s.sendEvent(*rejection)
		}
	}
}

// writePump pumps the outbound buffer to the connection and keeps the
// heartbeat going.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.gateway.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.gateway.cfg.WriteWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.gateway.cfg.WriteWait))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			// Drain queued events into the same write to save syscalls.
			n := len(s.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-s.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.gateway.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
