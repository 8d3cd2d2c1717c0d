package chat

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cim-chat/internal/middleware"
)

// GatewayConfig tunes transport timing and buffering. Zero values fall
// back to the defaults below.
type GatewayConfig struct {
	// WriteWait is the time allowed to write one frame to the peer.
	WriteWait time.Duration
	// PongWait is the heartbeat timeout: a peer that has not answered a
	// ping within it is forcibly disconnected.
	PongWait time.Duration
	// SendQueue bounds each session's outbound buffer; overflowing it
	// marks the session as a slow consumer.
	SendQueue int
	// MaxFrameSize limits inbound frame size in bytes.
	MaxFrameSize int64
	// HandshakeTimeout bounds the upgrade handshake.
	HandshakeTimeout time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 4096
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Pings must be spaced closer than the pong deadline.
func (c GatewayConfig) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Gateway accepts websocket connections and owns the resulting sessions.
// Per connection: upgrade, subscribe to the public topic, presence online,
// start the pumps. Identity is resolved before the upgrade by the auth
// middleware; a request without it never reaches a session.
type Gateway struct {
	broker   *Broker
	presence *PresenceTracker
	router   *Router
	topic    string
	cfg      GatewayConfig
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

func NewGateway(broker *Broker, presence *PresenceTracker, router *Router, topic string, cfg GatewayConfig) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		broker:   broker,
		presence: presence,
		router:   router,
		topic:    topic,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		sessions: make(map[*Session]struct{}),
	}
}

// ServeWS upgrades an authenticated request into a live session.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade: %v", err)
		return
	}

	sess := newSession(g, conn, Origin{
		UserID:   ident.UserID,
		Username: ident.Username,
		Roles:    ident.Roles,
	})

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.sessions[sess] = struct{}{}
	g.mu.Unlock()

	g.broker.Subscribe(g.topic, sess)
	g.presence.SetOnline(ident.UserID)

	// Seed the new client with the current presence state; everything
	// after this arrives as broadcast events.
	for _, st := range g.presence.Snapshot() {
		sess.sendEvent(Event{Type: EvtPresence, UserID: st.UserID, Online: st.Online})
	}

	go sess.writePump()
	go sess.readPump()
}

func (g *Gateway) forget(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
}

// SessionCount reports how many sessions are currently open.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close tears down every open session and stops accepting new ones.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	open := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()

	for _, s := range open {
		s.close()
	}
	log.Printf("gateway: closed %d sessions", len(open))
}
