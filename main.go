package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-relay/internal/bridge"
	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/grpcserver"
	"chat-relay/internal/handlers"
	"chat-relay/internal/identity"
	"chat-relay/internal/logging"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/repositories"
	"chat-relay/internal/roomkey"
	"chat-relay/internal/service"
	"chat-relay/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: cfg.Tracing.ServiceName})
	l := logging.L().With().Str(logging.FieldInstance, cfg.Instance.ID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, l)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, cfg.Instance.ID)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to init tracing")
	}

	database, err := db.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to db")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		l.Fatal().Err(err).Str("addr", cfg.Redis.Address).Msg("failed to connect to redis")
	}

	verifier, err := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to build token verifier")
	}

	keys := roomkey.New(cfg.Redis.KeyPrefix)
	messageRepo := repositories.NewMessageRepo(database)
	store := repositories.NewRedisMessageStore(rdb, keys, repositories.WithSequenceFloor(messageRepo))
	registry := repositories.NewRedisSessionRegistry(rdb, keys)
	roomRepo := repositories.NewRoomRepo(database)
	checkpoints := newCheckpointStore(cfg.Checkpoint.Driver, rdb, keys, database)

	br, err := newBridge(cfg, rdb)
	if err != nil {
		l.Fatal().Err(err).Str("driver", cfg.Bridge.Driver).Msg("failed to open bridge")
	}

	hub := ws.NewHub()
	if err := br.Subscribe(ctx, hub.Deliver); err != nil {
		l.Fatal().Err(err).Msg("failed to subscribe to bridge")
	}

	if n, err := registry.PurgeInstance(ctx, cfg.Instance.ID); err != nil {
		l.Warn().Err(err).Msg("failed to purge stale sessions")
	} else if n > 0 {
		l.Info().Int("sessions", n).Msg("purged stale sessions")
	}

	chatService := service.NewChatService(service.Deps{
		Store:       store,
		Durable:     messageRepo,
		Checkpoints: checkpoints,
		Rooms:       roomRepo,
		Bridge:      br,
	}, service.WithRetain(cfg.Flush.Retain))

	flusher := service.NewFlusher(chatService, cfg.Flush.Interval, cfg.Flush.Timeout)
	flusher.Start(ctx)

	roomHandler := handlers.NewRoomHandler(roomRepo, chatService, registry)
	adminHandler := handlers.NewAdminHandler(chatService)
	chatWS := ws.NewChatWebSocketHandler(hub, chatService, roomRepo, registry, verifier, cfg.WebSocket, cfg.Instance.ID)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.Tracing.ServiceName),
		logging.GinMiddleware(l),
		observability.HTTPMetricsMiddleware(),
	)

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/healthz", handlers.Health(map[string]handlers.HealthCheck{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"postgres": database.PingContext,
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	router.GET("/rooms/:room_id/messages", authMiddleware, roomHandler.GetRoomMessages)
	router.GET("/rooms/:room_id/participants", authMiddleware, roomHandler.GetParticipants)
	router.POST("/admin/flush", authMiddleware, middleware.RequireRole(identity.RoleAdmin), adminHandler.Flush)

	router.GET("/ws/rooms/:room_id", chatWS.Handle)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		l.Info().Str("addr", httpSrv.Addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	grpcSrv := grpcserver.New()
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port))
	if err != nil {
		l.Fatal().Err(err).Msg("failed to listen for grpc")
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
			stop()
		}
	}()
	grpcSrv.SetServing(true)

	<-ctx.Done()
	l.Info().Msg("shutting down")
	grpcSrv.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), l), 15*time.Second)
	defer cancel()

	flusher.Stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("http shutdown")
	}
	hub.Shutdown()
	// LEAVE notices and deregistrations still need the bridge and redis.
	if err := chatWS.Wait(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("websocket sessions did not finish")
	}

	// Last sweep so a clean stop leaves nothing unflushed.
	if _, err := chatService.FlushUnpersistedMessages(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("final flush")
	}
	if _, err := registry.PurgeInstance(shutdownCtx, cfg.Instance.ID); err != nil {
		l.Warn().Err(err).Msg("failed to purge sessions")
	}

	_ = br.Close()
	grpcSrv.Stop(shutdownCtx)
	_ = rdb.Close()
	_ = database.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("tracing shutdown")
	}
	l.Info().Msg("stopped")
}

func newBridge(cfg *config.Config, rdb redis.UniversalClient) (bridge.Bridge, error) {
	switch cfg.Bridge.Driver {
	case "amqp":
		return bridge.NewAMQPBridge(cfg.Bridge.AMQPURL, cfg.Bridge.Exchange)
	case "local":
		return bridge.NewLocalBridge(), nil
	default:
		return bridge.NewRedisBridge(rdb, cfg.Bridge.Channel), nil
	}
}

func newCheckpointStore(driver string, rdb redis.UniversalClient, keys roomkey.Codec, database *sqlx.DB) repositories.CheckpointStore {
	if driver == "postgres" {
		return repositories.NewCheckpointRepo(database)
	}
	return repositories.NewRedisCheckpointStore(rdb, keys)
}
