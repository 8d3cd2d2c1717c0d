package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"cim-chat/internal/chat"
	"cim-chat/internal/db"
	"cim-chat/internal/identity"
	myMiddleware "cim-chat/internal/middleware"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}

	moderatorRole := os.Getenv("MODERATOR_ROLE")
	if moderatorRole == "" {
		moderatorRole = identity.RoleAdmin
	}

	historyLimit := 5000
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			historyLimit = n
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Core chat state
	gate := chat.NewModerationGate(moderatorRole)
	store := chat.NewStore(gate, historyLimit)

	// 3. Optional Redis relay (multi-instance fan-out)
	var redisClient *redis.Client
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisAddr})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		log.Println("✅ Connected to Redis")
	}

	broker := chat.NewBroker(redisClient)
	if redisClient != nil {
		go broker.RunRelay(ctx, chat.TopicPublic)
	}

	// Presence transitions go out on the public topic like any other event.
	presence := chat.NewPresenceTracker(func(userID int64, online bool) {
		broker.Publish(chat.TopicPublic, chat.Event{
			Type:   chat.EvtPresence,
			UserID: userID,
			Online: online,
		})
	})

	// 4. Optional Postgres archive (history survives restarts)
	var archive *chat.PostgresArchive
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		database, err := db.NewDatabase(dsn)
		if err != nil {
			log.Fatalf("❌ Failed to connect to DB: %v", err)
		}
		log.Println("✅ Connected to PostgreSQL")

		if err := database.AutoMigrate(); err != nil {
			log.Fatalf("❌ Migration failed: %v", err)
		}

		archive = chat.NewPostgresArchive(database.Conn)
		backlog, err := archive.LoadAll(ctx)
		if err != nil {
			log.Fatalf("❌ Failed to load archived messages: %v", err)
		}
		store.Seed(backlog)
		store.SetArchiver(archive)
		go archive.Run(context.Background())
		log.Printf("✅ Restored %d archived messages", len(backlog))
	}

	// 5. Router, Gateway, HTTP boundary
	router := chat.NewRouter(store, broker, chat.TopicPublic)
	gateway := chat.NewGateway(broker, presence, router, chat.TopicPublic, chat.GatewayConfig{})
	chatHandler := chat.NewHandler(store, presence, gateway)

	resolver := identity.NewJWTResolver(jwtSecret, "cim-dashboard")
	authMiddleware := myMiddleware.NewAuthMiddleware(resolver)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", chatHandler.ServeWS)
		r.Get("/api/chat/messages", chatHandler.GetMessages)
		r.Get("/api/chat/user-statuses", chatHandler.GetUserStatuses)
	})

	srv := &http.Server{Addr: *addr, Handler: r}

	go func() {
		log.Printf("🚀 Server starting on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ ListenAndServe: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("⏳ Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	gateway.Close()
	if archive != nil {
		archive.Close()
	}
	log.Println("✅ Server stopped")
}
