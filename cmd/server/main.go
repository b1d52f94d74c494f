package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/adapter/httpserver"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/adapter/recentmessages"
	"github.com/pscheid92/chatrelay/internal/adapter/redis"
	"github.com/pscheid92/chatrelay/internal/adapter/twitch"
	"github.com/pscheid92/chatrelay/internal/adapter/websocket"
	"github.com/pscheid92/chatrelay/internal/app"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/platform/config"
	"github.com/pscheid92/chatrelay/internal/platform/logging"
	"github.com/pscheid92/chatrelay/internal/platform/version"
	"github.com/pscheid92/chatrelay/internal/relay"
	goredis "github.com/redis/go-redis/v9"
)

type twitchCollaborators struct {
	validator domain.TokenValidator
	refresher domain.TokenRefresher
	profiles  domain.ProfileLookup
}

func runGracefulShutdown(srv *httpserver.Server, supervisor *relay.Supervisor) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		supervisor.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupRedis connects when REDIS_URL is set. Without it the backfill cache
// is disabled and the relay runs without Redis.
func setupRedis(ctx context.Context, cfg *config.Config, clock clockwork.Clock, bm *metrics.BackfillMetrics, rm *metrics.RedisMetrics) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, backfill cache disabled")
		return nil
	}
	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(rm, clock), redis.NewBreakerHook(bm))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupTwitch builds the Helix client when an application is configured.
// Interfaces stay nil otherwise so the identity manager sees no collaborator.
func setupTwitch(cfg *config.Config) twitchCollaborators {
	if cfg.TwitchClientID == "" {
		slog.Info("TWITCH_CLIENT_ID not set, running in anonymous mode only")
		return twitchCollaborators{}
	}
	client, err := twitch.NewClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	if err != nil {
		slog.Error("Failed to create Twitch client", "error", err)
		os.Exit(1)
	}
	tc := twitchCollaborators{validator: client, profiles: client}
	if cfg.TwitchClientSecret != "" {
		tc.refresher = client
	}
	return tc
}

func setupBackfill(cfg *config.Config, redisClient *goredis.Client, m *metrics.BackfillMetrics) (*app.BackfillService, *recentmessages.Source) {
	source := recentmessages.NewSource(cfg.RecentMessagesURL, m, recentmessages.WithLimit(cfg.MessageCap))

	// Pass nil explicitly to avoid a typed-nil Cmdable.
	var rdb goredis.Cmdable
	if redisClient != nil {
		rdb = redisClient
	}
	return app.NewBackfillService(redis.NewBackfillCache(rdb, source, cfg.BackfillCacheTTL, m)), source
}

func bootstrapIdentity(cfg *config.Config, identities *app.IdentityManager) {
	if cfg.TwitchAccessToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	identity, err := identities.Bootstrap(ctx, cfg.TwitchAccessToken, cfg.TwitchRefreshToken)
	if err != nil {
		slog.Warn("Configured identity unusable, continuing anonymously", "error", err)
		return
	}
	slog.Info("Identity bootstrapped", "login", identity.Login)
}

func healthChecks(redisClient *goredis.Client, supervisor *relay.Supervisor, source *recentmessages.Source) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{{
		Name: "upstream",
		Check: func(context.Context) error {
			if st := supervisor.Status().State; st != relay.Ready {
				return fmt.Errorf("upstream %s", st)
			}
			return nil
		},
	}}
	// Backfill and its cache are optional: live relaying continues without them.
	checks = append(checks, httpserver.HealthCheck{Name: "backfill", Optional: true, Check: source.Check})
	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	registry := metrics.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(registry)
	backfillMetrics := metrics.NewBackfillMetrics(registry)
	identityMetrics := metrics.NewIdentityMetrics(registry)
	wsMetrics := metrics.NewWebSocketMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)
	redisMetrics := metrics.NewRedisMetrics(registry)

	redisClient := setupRedis(context.Background(), cfg, clock, backfillMetrics, redisMetrics)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	tc := setupTwitch(cfg)
	backfill, source := setupBackfill(cfg, redisClient, backfillMetrics)

	// The supervisor reports rejected credentials to the identity manager,
	// which in turn drives the supervisor's identity.
	var identities *app.IdentityManager
	supervisor := relay.NewSupervisor(relay.Config{
		URL:               cfg.IRCURL,
		GuestPrefix:       cfg.GuestNickPrefix,
		KeepaliveInterval: cfg.KeepaliveInterval,
	}, relay.NewWebSocketDialer(clock), clock, relayMetrics, func(rejected *domain.Identity) {
		identities.HandleAuthRejected(rejected)
	})
	identities = app.NewIdentityManager(supervisor, tc.validator, tc.refresher, tc.profiles, identityMetrics)

	bootstrapIdentity(cfg, identities)
	supervisor.Connect()

	wsHandler := websocket.NewHandler(websocket.HandlerConfig{
		MessageCap: cfg.MessageCap,
		Limits: websocket.LimitsConfig{
			MaxConsumers: cfg.MaxConsumers,
			MaxPerIP:     cfg.MaxConsumersPerIP,
			ConnectRate:  cfg.ConsumerConnectRate,
			ConnectBurst: cfg.ConsumerConnectBurst,
		},
		CheckOrigin: websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
	}, supervisor, backfill, identities, clock, wsMetrics)

	srv := httpserver.NewServer(cfg, identities, supervisor, httpserver.Options{
		WebsocketHandler: wsHandler,
		MetricsHandler:   metrics.Handler(registry),
		HTTPMetrics:      httpMetrics,
		HealthChecks:     healthChecks(redisClient, supervisor, source),
	})

	done := runGracefulShutdown(srv, supervisor)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
