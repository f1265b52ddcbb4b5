// Command backend is the main entrypoint for the s4u-chat reply scheduler.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres and runs migrations for the reply audit log.
//   - Starts ingestion from Twitch chat and/or a NATS subject.
//   - Routes every event into its chat session and streams replies back out
//     through Twitch chat, NATS and the SSE hub.
//   - Exposes an HTTP server with /healthz, /readyz, /metrics, session
//     inspection and admin controls.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/s4u-chat/backend/bus"
	"github.com/onnwee/s4u-chat/backend/cache"
	"github.com/onnwee/s4u-chat/backend/chat"
	"github.com/onnwee/s4u-chat/backend/config"
	"github.com/onnwee/s4u-chat/backend/db"
	"github.com/onnwee/s4u-chat/backend/generator"
	"github.com/onnwee/s4u-chat/backend/s4u"
	"github.com/onnwee/s4u-chat/backend/server"
	"github.com/onnwee/s4u-chat/backend/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; it needs OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdownTracing, err := telemetry.InitTracing("s4u-chat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database is optional: without it the reply audit log is disabled.
	var (
		database *sql.DB
		replies  *db.ReplyStore
	)
	if cfg.DBDsn != "" {
		database, err = db.Connect(cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, falling back to embedded schema", slog.Any("err", err), slog.String("component", "db_migrate"))
			if err := db.Migrate(ctx, database); err != nil {
				slog.Error("failed to migrate db", slog.Any("err", err))
				os.Exit(1)
			}
		}
		replies = &db.ReplyStore{DB: database}
	} else {
		slog.Info("DB_DSN not set; reply audit log disabled")
	}

	var gen s4u.Generator = generator.Echo{}
	if cfg.OpenAIAPIKey != "" {
		gen = generator.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.SystemPrompt)
		slog.Info("reply generator: openai", slog.String("model", cfg.OpenAIModel))
	} else {
		slog.Warn("OPENAI_API_KEY not set; using echo generator")
	}

	hub := server.NewHub(64)
	transports := []s4u.Transport{hub}
	var checks []server.Check

	var relay *chat.Relay
	if err := cfg.ValidateChatReady(); err == nil {
		relay = chat.NewRelay(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannels)
		transports = append(transports, relay)
		checks = append(checks, server.Check{Name: "twitch_chat", Fn: func(context.Context) error {
			if !relay.Connected() {
				return errors.New("twitch chat not connected")
			}
			return nil
		}})
	} else {
		slog.Info("twitch chat disabled", slog.Any("reason", err))
	}

	var nc *bus.Client
	if cfg.NATSURL != "" {
		nc, err = bus.Connect(cfg.NATSURL)
		if err != nil {
			slog.Error("failed to connect to nats", slog.Any("err", err))
			os.Exit(1)
		}
		defer nc.Close()
		transports = append(transports, bus.NewPublisher(nc.Conn(), cfg.NATSReplySubjectPrefix))
		checks = append(checks, server.Check{Name: "nats", Fn: func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		}})
	}

	var (
		recorders []s4u.Recorder
		lister    server.ReplyLister
	)
	if replies != nil {
		recorders = append(recorders, replies)
		lister = replies
	}
	if cfg.RedisAddr != "" {
		recent := cache.New(cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, Keep: cfg.RedisReplyKeep})
		defer func() {
			if err := recent.Close(); err != nil {
				slog.Error("failed to close redis", slog.Any("err", err))
			}
		}()
		recorders = append(recorders, recent)
		if lister == nil {
			lister = recent
		}
		checks = append(checks, server.Check{Name: "redis", Fn: recent.Ping})
	}

	deps := s4u.Deps{Generator: gen, Transport: s4u.Fanout(transports...)}
	switch len(recorders) {
	case 0:
	case 1:
		deps.Recorder = recorders[0]
	default:
		deps.Recorder = s4u.Recorders(recorders...)
	}
	manager := s4u.NewManager(ctx, s4u.OptionsFromConfig(cfg.Scheduler), deps)
	manager.StartReaper(ctx)

	if relay != nil {
		go chat.Supervise(ctx, relay, manager)
	}
	var sub *bus.Subscriber
	if nc != nil {
		sub = bus.NewSubscriber(nc.Conn(), cfg.NATSEventSubject, "s4u-chat", manager)
		if err := sub.Start(ctx); err != nil {
			slog.Error("failed to subscribe to events", slog.String("subject", cfg.NATSEventSubject), slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	srvDeps := server.Deps{Manager: manager, Hub: hub, DB: database, Replies: lister, Scheduler: cfg.Scheduler, Checks: checks}
	go func() {
		if err := server.Start(ctx, srvDeps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	if sub != nil {
		sub.Stop()
	}
	manager.Close()
}
