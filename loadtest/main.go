package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cim-chat/internal/chat"
	"cim-chat/internal/identity"
)

const (
	WSURL     = "ws://localhost:8080/ws"
	UserCount = 200 // ⚠️ Start small. Raise once the server keeps up.
	MsgCount  = 20  // Messages per user
)

var received atomic.Int64

func main() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must match the server under test")
	}
	resolver := identity.NewJWTResolver(secret, "cim-dashboard")

	log.Printf("🔥 STARTING STRESS TEST: %d users, %d messages each...", UserCount, MsgCount)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < UserCount; i++ {
		wg.Add(1)
		go func(userNum int) {
			defer wg.Done()
			runUser(resolver, userNum)
		}(i)
	}
	wg.Wait()

	log.Printf("✅ LOAD TEST COMPLETE in %s, %d events received", time.Since(start), received.Load())
}

func runUser(resolver *identity.JWTResolver, userNum int) {
	token, err := resolver.Issue(identity.Identity{
		UserID:   int64(10000 + userNum),
		Username: fmt.Sprintf("load_%d", userNum),
		Roles:    []string{identity.RoleUser},
	}, time.Hour)
	if err != nil {
		log.Printf("user %d: issue token: %v", userNum, err)
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(WSURL+"?token="+token, nil)
	if err != nil {
		log.Printf("user %d: dial: %v", userNum, err)
		return
	}
	defer conn.Close()

	// Drain broadcasts so the server never sees us as a slow consumer.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	for i := 0; i < MsgCount; i++ {
		payload, _ := json.Marshal(chat.Command{
			Type:    chat.CmdSend,
			Content: fmt.Sprintf("message %d from user %d", i, userNum),
		})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("user %d: write: %v", userNum, err)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Give the tail of the broadcast fan-out a moment to arrive.
	time.Sleep(time.Second)
}
