// main wires the admission pipeline to the chat platform: configuration,
// stores, the gate, the gateway session, and the metrics endpoint. Command
// business logic stays in the handlers registered below.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"panelbot/internal/audit"
	"panelbot/internal/gate"
	"panelbot/internal/platform/config"
	platformdiscord "panelbot/internal/platform/discord"
	"panelbot/internal/platform/logger"
	"panelbot/internal/privilege"
	rlconfig "panelbot/internal/ratelimit/config"
	rlservice "panelbot/internal/ratelimit/service"
	"panelbot/internal/ratelimit/store/bucket"
	"panelbot/internal/stepup"
	"panelbot/internal/user"
)

func main() {
	cfg := config.Load()
	log := logger.New()

	if cfg.DiscordToken == "" {
		log.Error("DISCORD_TOKEN is required")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set, step-up tokens will fail closed")
	}

	// Event log and user records: durable when a database path is configured.
	var (
		eventStore audit.Store
		userStore  user.Store
	)
	if cfg.DatabasePath != "" {
		// One handle serves both stores; separate handles on the same file
		// contend for the write lock.
		db, err := sql.Open("sqlite3", cfg.DatabasePath)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		sqliteEvents, err := audit.NewSQLiteStoreFromDB(db)
		if err != nil {
			log.Error("failed to open event store", "error", err)
			os.Exit(1)
		}
		sqliteUsers, err := user.NewSQLiteStoreFromDB(db)
		if err != nil {
			log.Error("failed to open user store", "error", err)
			os.Exit(1)
		}

		eventStore, userStore = sqliteEvents, sqliteUsers
		log.Info("using durable stores", "path", cfg.DatabasePath)
	} else {
		eventStore, userStore = audit.NewInMemoryStore(), user.NewInMemoryStore()
		log.Warn("no DATABASE_PATH set, stores are in-memory only")
	}

	publisher := audit.NewPublisher(eventStore,
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log),
	)
	defer publisher.Close()

	var auditorOpts []audit.AuditorOption
	auditorOpts = append(auditorOpts, audit.WithLogger(log))
	if cfg.SecurityWebhookURL != "" {
		auditorOpts = append(auditorOpts, audit.WithAlertSink(
			audit.NewWebhookSink(cfg.SecurityWebhookURL, audit.WithWebhookLogger(log)),
		))
	} else {
		log.Info("SECURITY_WEBHOOK_URL not set, alert forwarding disabled")
	}
	auditor, err := audit.NewAuditor(publisher, auditorOpts...)
	if err != nil {
		log.Error("failed to build auditor", "error", err)
		os.Exit(1)
	}

	limiter, err := rlservice.New(bucket.NewInMemoryStore(),
		rlservice.WithConfig(rlconfig.FromEnv()),
		rlservice.WithLogger(log),
		rlservice.WithAuditRecorder(auditor),
	)
	if err != nil {
		log.Error("failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	// Step-up sessions: shared via Redis when configured.
	var sessions stepup.SessionStore = stepup.NewInMemorySessionStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Error("redis ping failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		sessions = stepup.NewRedisSessionStore(client)
		log.Info("using redis step-up sessions")
	}

	verifier := stepup.NewTOTPVerifier("PanelBot", 2)
	tokens := stepup.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	authenticator, err := stepup.New(
		user.NewDirectory(userStore), sessions, verifier, tokens, limiter,
		stepup.WithLogger(log),
		stepup.WithAuditRecorder(auditor),
		stepup.WithSessionTTL(cfg.SessionTTL),
	)
	if err != nil {
		log.Error("failed to build step-up authenticator", "error", err)
		os.Exit(1)
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Error("failed to create gateway session", "error", err)
		os.Exit(1)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	evaluator, err := privilege.New(platformdiscord.NewRoleResolver(session),
		privilege.WithLogger(log),
		privilege.WithPremiumRole(cfg.PremiumRoleID),
	)
	if err != nil {
		log.Error("failed to build privilege evaluator", "error", err)
		os.Exit(1)
	}

	notifier := platformdiscord.NewChannelNotifier(session, cfg.AdminChannelID, cfg.DebugChannelID, log)

	admission, err := gate.New(limiter, evaluator, authenticator,
		gate.WithAuditor(auditor),
		gate.WithDebugSink(notifier),
		gate.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to build gate", "error", err)
		os.Exit(1)
	}

	responder := platformdiscord.NewResponder(session)
	handler := platformdiscord.NewInteractionHandler(admission, responder, commandTable(auditor, authenticator, limiter, evaluator), log)
	session.AddHandler(handler.Handle)
	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		log.Info("gateway ready", "username", r.User.Username, "guilds", len(r.Guilds))
		notifier.NotifyStartup(r.User.Username)
	})

	if err := session.Open(); err != nil {
		log.Error("failed to open gateway session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	if _, err := session.ApplicationCommandBulkOverwrite(session.State.User.ID, "", commandDefinitions()); err != nil {
		log.Error("failed to register commands", "error", err)
		os.Exit(1)
	}
	log.Info("bot running")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		group.Go(func() error {
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
}
