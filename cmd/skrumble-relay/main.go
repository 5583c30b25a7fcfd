package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/skrumble/skrumble-go/internal/config"
	"github.com/skrumble/skrumble-go/internal/db"
	"github.com/skrumble/skrumble-go/internal/handlers"
	"github.com/skrumble/skrumble-go/internal/middleware"
	"github.com/skrumble/skrumble-go/internal/observability"
	"github.com/skrumble/skrumble-go/internal/platform"
	"github.com/skrumble/skrumble-go/internal/rabbitmq"
	"github.com/skrumble/skrumble-go/internal/relay"
	"github.com/skrumble/skrumble-go/internal/repositories"
	"github.com/skrumble/skrumble-go/internal/telemetry"
	"github.com/skrumble/skrumble-go/internal/ws"
	"github.com/skrumble/skrumble-go/skrumble"
)

const (
	tokenIssuer       = "skrumble-relay"
	reconnectInterval = 15 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stdout, "Usage of skrumble-relay:\n%s", config.Usage())
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "skrumble-relay: %v\n", err)
		os.Exit(2)
	}

	auth := middleware.NewJWTAuth([]byte(cfg.JWTSecret), tokenIssuer)
	if cfg.IssueToken != "" {
		token, err := auth.GenerateToken(cfg.IssueToken, cfg.TokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skrumble-relay: issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	level, err := skrumble.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skrumble-relay: %v\n", err)
		os.Exit(2)
	}
	log := skrumble.NewLogger(os.Stderr, level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, auth, log); err != nil {
		log.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, auth *middleware.JWTAuth, log *slog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Telemetry.ServiceName, cfg.Environment, cfg.Telemetry.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.Telemetry.ServiceName, cfg.Environment, log)

	var (
		messages repositories.MessageRepository
		events   repositories.EventRepository
	)
	if cfg.Database.DSN != "" {
		database, err := db.Connect(ctx, cfg.Database.DSN, log)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer database.Close()
		messages = repositories.NewMessageRepo(database)
		events = repositories.NewEventRepo(database)
	} else {
		log.Info("message archive disabled: empty dsn")
	}

	socket, err := skrumble.NewSocket(skrumble.Config{
		ClientID:       cfg.Skrumble.ClientID,
		ClientSecret:   cfg.Skrumble.ClientSecret,
		APIHostname:    cfg.Skrumble.APIHost,
		AuthHostname:   cfg.Skrumble.AuthHost,
		Insecure:       cfg.Skrumble.Insecure,
		ConnectTimeout: cfg.Skrumble.ConnectTimeout,
		Logger:         log,
		Observer:       observability.SDKObserver{},
	})
	if err != nil {
		return fmt.Errorf("build socket: %w", err)
	}
	user, err := socket.Login(ctx, cfg.Skrumble.Email, cfg.Skrumble.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer socket.Logout()
	log.Info("logged in", "user_id", user.ID, "name", user.FullName())

	hub := ws.NewHub(log)
	r := relay.New(relay.Options{
		Source:    socket,
		Publisher: publisher,
		Messages:  messages,
		Events:    events,
		Hub:       hub,
		Logger:    log,
	})
	go func() {
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay loop stopped", "error", err)
		}
	}()
	go keepConnected(ctx, socket, log)

	client := platform.NewClient(socket)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(cfg, auth, client, hub, socket.Connected, messages, events, audit),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(
	cfg *config.Config,
	auth *middleware.JWTAuth,
	client handlers.Platform,
	hub *ws.Hub,
	ready func() bool,
	messages repositories.MessageRepository,
	events repositories.EventRepository,
	audit *telemetry.AuditEmitter,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestID())

	health := handlers.NewHealthHandler(client, events)
	router.GET("/healthz", health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(auth)
	account := handlers.NewAccountHandler(client)
	chats := handlers.NewChatHandler(client, messages, audit)

	api := router.Group("/", authMiddleware)
	api.GET("/me", account.Me)
	api.GET("/teams/:team_id", account.GetTeam)
	api.GET("/chats", chats.ListChats)
	api.GET("/chats/:chat_id", chats.GetChat)
	api.POST("/chats/:chat_id/messages", chats.PostChatMessage)
	api.POST("/chats/:chat_id/guests", chats.InviteGuests)
	api.GET("/chats/:chat_id/archive", chats.ListArchive)
	api.GET("/events/stats", health.EventStats)

	eventsWS := ws.NewEventsWebSocketHandler(hub, auth, ready)
	router.GET("/ws/events", eventsWS.Handle)

	handlers.RegisterDebugRoutes(api, audit, cfg.DebugRoutes)
	return router
}

// keepConnected reopens the realtime connection after it drops. Tokens from
// the initial login are reused.
func keepConnected(ctx context.Context, socket *skrumble.Socket, log *slog.Logger) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if socket.Connected() {
			continue
		}
		log.Warn("platform socket down, reconnecting")
		if err := socket.ConnectSocket(ctx); err != nil {
			log.Error("reconnect failed", "error", err)
			continue
		}
		log.Info("platform socket reconnected")
	}
}
