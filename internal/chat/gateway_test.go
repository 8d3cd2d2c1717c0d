package chat_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"cim-chat/internal/chat"
	"cim-chat/internal/identity"
	myMiddleware "cim-chat/internal/middleware"
)

type chatFixture struct {
	ts       *httptest.Server
	resolver *identity.JWTResolver
	store    *chat.Store
	presence *chat.PresenceTracker
	gateway  *chat.Gateway
}

func newChatFixture(t *testing.T, cfg chat.GatewayConfig) *chatFixture {
	t.Helper()

	gate := chat.NewModerationGate(identity.RoleAdmin)
	store := chat.NewStore(gate, 0)
	broker := chat.NewBroker(nil)
	presence := chat.NewPresenceTracker(func(userID int64, online bool) {
		broker.Publish(chat.TopicPublic, chat.Event{Type: chat.EvtPresence, UserID: userID, Online: online})
	})
	router := chat.NewRouter(store, broker, chat.TopicPublic)
	gateway := chat.NewGateway(broker, presence, router, chat.TopicPublic, cfg)
	handler := chat.NewHandler(store, presence, gateway)

	resolver := identity.NewJWTResolver("test-secret", "cim-dashboard")
	auth := myMiddleware.NewAuthMiddleware(resolver)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Handle)
		r.Get("/ws", handler.ServeWS)
		r.Get("/api/chat/messages", handler.GetMessages)
		r.Get("/api/chat/user-statuses", handler.GetUserStatuses)
	})

	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		gateway.Close()
		ts.Close()
	})
	return &chatFixture{ts: ts, resolver: resolver, store: store, presence: presence, gateway: gateway}
}

func (f *chatFixture) token(t *testing.T, ident identity.Identity) string {
	t.Helper()
	token, err := f.resolver.Issue(ident, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (f *chatFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForEvent reads frames (which may batch several newline-separated
// events) until one matches the predicate or the timeout expires.
func waitForEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(chat.Event) bool) chat.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		dec := json.NewDecoder(bytes.NewReader(frame))
		for {
			var ev chat.Event
			if err := dec.Decode(&ev); err == io.EOF {
				break
			} else if err != nil {
				t.Fatalf("decode frame %q: %v", frame, err)
			}
			if match(ev) {
				return ev
			}
		}
	}
	t.Fatalf("no matching event within %s", timeout)
	return chat.Event{}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestGatewayRejectsInvalidToken(t *testing.T) {
	f := newChatFixture(t, chat.GatewayConfig{})

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
	if f.gateway.SessionCount() != 0 {
		t.Fatalf("session created for unauthenticated connection")
	}
	if f.presence.Online(1) {
		t.Fatalf("presence touched for unauthenticated connection")
	}
}

func TestGatewayLifecycle(t *testing.T) {
	f := newChatFixture(t, chat.GatewayConfig{})

	aliceConn := f.dial(t, f.token(t, identity.Identity{UserID: 1, Username: "alice", Roles: []string{identity.RoleUser}}))

	// The new session learns its own presence, by snapshot or broadcast.
	waitForEvent(t, aliceConn, 2*time.Second, func(ev chat.Event) bool {
		return ev.Type == chat.EvtPresence && ev.UserID == 1 && ev.Online
	})
	waitFor(t, 2*time.Second, func() bool { return f.presence.Online(1) })

	// A second user sees alice's message live.
	bobConn := f.dial(t, f.token(t, identity.Identity{UserID: 2, Username: "bob", Roles: []string{identity.RoleUser}}))
	waitForEvent(t, bobConn, 2*time.Second, func(ev chat.Event) bool {
		return ev.Type == chat.EvtPresence && ev.UserID == 2 && ev.Online
	})

	send, _ := json.Marshal(chat.Command{Type: chat.CmdSend, Content: "hello from alice"})
	if err := aliceConn.WriteMessage(websocket.TextMessage, send); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := waitForEvent(t, bobConn, 2*time.Second, func(ev chat.Event) bool {
		return ev.Type == chat.EvtMessageCreated
	})
	if got.Message.Sender != "alice" || got.Message.Content != "hello from alice" {
		t.Fatalf("broadcast message: %+v", got.Message)
	}

	// A rejection goes back to the offending session only.
	bad, _ := json.Marshal(chat.Command{Type: "shout"})
	if err := bobConn.WriteMessage(websocket.TextMessage, bad); err != nil {
		t.Fatalf("write: %v", err)
	}
	rej := waitForEvent(t, bobConn, 2*time.Second, func(ev chat.Event) bool {
		return ev.Type == chat.EvtError
	})
	if rej.Code != chat.CodeProtocol {
		t.Fatalf("rejection code: %+v", rej)
	}

	// Clean close flips presence offline.
	aliceConn.Close()
	waitFor(t, 2*time.Second, func() bool { return !f.presence.Online(1) })
	if f.presence.Online(2) != true {
		t.Fatalf("bob's presence was affected by alice's disconnect")
	}
}

func TestGatewayHeartbeatTimeout(t *testing.T) {
	f := newChatFixture(t, chat.GatewayConfig{PongWait: 200 * time.Millisecond})

	// Dial and go silent: never read, so the client library never answers
	// the server's pings.
	f.dial(t, f.token(t, identity.Identity{UserID: 5, Username: "ghost"}))
	waitFor(t, 2*time.Second, func() bool { return f.presence.Online(5) })

	// Presence must flip offline no later than the heartbeat timeout
	// (plus scheduling slack).
	waitFor(t, 3*time.Second, func() bool { return !f.presence.Online(5) })
	waitFor(t, 2*time.Second, func() bool { return f.gateway.SessionCount() == 0 })
}

func TestGatewayReconnectIsANewSession(t *testing.T) {
	f := newChatFixture(t, chat.GatewayConfig{})
	token := f.token(t, identity.Identity{UserID: 3, Username: "carol"})

	conn := f.dial(t, token)
	waitFor(t, 2*time.Second, func() bool { return f.presence.Online(3) })
	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return !f.presence.Online(3) })

	// Client-driven reconnect: a fresh session, presence online again.
	f.dial(t, token)
	waitFor(t, 2*time.Second, func() bool { return f.presence.Online(3) })
	if f.gateway.SessionCount() != 1 {
		t.Fatalf("expected exactly one live session, got %d", f.gateway.SessionCount())
	}
}
