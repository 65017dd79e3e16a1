package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/auth"
	"github.com/rtmsg/broker/internal/config"
	"github.com/rtmsg/broker/internal/events"
	"github.com/rtmsg/broker/internal/graphqlapi"
	"github.com/rtmsg/broker/internal/httpapi"
	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/protocol"
	"github.com/rtmsg/broker/internal/pubsub"
	"github.com/rtmsg/broker/internal/repo"
	"github.com/rtmsg/broker/internal/tcpconn"
	"github.com/rtmsg/broker/internal/tcpserver"
	"github.com/rtmsg/broker/internal/wsapi"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "rtmsg-broker",
		Short: "Realtime messaging broker (TCP, WebSocket and GraphQL subscriptions)",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the broker (TCP listener, HTTP+GraphQL front door)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.LoadFile(configPath, config.Default())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.Development); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer observability.Sync()
	log := observability.GetLogger()

	log.Info("starting rtmsg-broker",
		zap.Int("tcp_port", cfg.TCP.Port),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("pubsub_adapter", cfg.PubSub.Adapter),
		zap.String("persistence_driver", cfg.Persistence.Driver),
	)

	var tracingShutdown func(context.Context) error
	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing("rtmsg-broker", cfg.Observability.OTLPEndpoint)
		if err != nil {
			log.Warn("tracing disabled: failed to initialize", zap.Error(err))
		} else {
			tracingShutdown = shutdown
		}
	}

	observability.RegisterDefaultHealthChecks()

	userRepo, messageRepo, closeRepos, err := buildRepositories(cfg)
	if err != nil {
		return fmt.Errorf("building repositories: %w", err)
	}
	defer closeRepos()

	broker, err := buildBroker(cfg, log)
	if err != nil {
		return fmt.Errorf("building broker: %w", err)
	}
	if err := broker.Connect(); err != nil {
		return fmt.Errorf("connecting broker: %w", err)
	}
	observability.RegisterPubSubAdapterCheck("pubsub", broker.IsConnected)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)

	bus := events.NewBus()
	bridge := events.NewBridge(bus, broker, log)
	bridge.Start()
	defer bridge.Stop()

	connManager := tcpconn.NewManager(cfg.TCP.MaxConnections, cfg.TCP.MaxConnectionsPerIP, log)
	codec := protocol.NewCodec(cfg.TCP.MaxFrameSize)
	handler := tcpserver.NewHandler(connManager, broker, codec, verifier, userRepo, log)

	var tcpSrv *tcpserver.Server
	if cfg.TCP.Enabled {
		tcpSrv = tcpserver.NewServer(tcpserver.Config{
			Address:             net.JoinHostPort(cfg.TCP.Host, fmt.Sprintf("%d", cfg.TCP.Port)),
			MaxConnections:      cfg.TCP.MaxConnections,
			MaxConnectionsPerIP: cfg.TCP.MaxConnectionsPerIP,
			MaxFrameSize:        cfg.TCP.MaxFrameSize,
			PingInterval:        cfg.TCP.PingInterval,
			PingTimeout:         cfg.TCP.PingTimeout,
			DrainTimeout:        cfg.TCP.DrainTimeout,
		}, connManager, handler, codec, log)

		if err := tcpSrv.Start(); err != nil {
			return fmt.Errorf("starting tcp server: %w", err)
		}
		log.Info("tcp listener started", zap.String("addr", tcpSrv.Addr()))
	}

	wsSrv := wsapi.NewServer(connManager, handler, log)

	schema, err := graphqlapi.NewSchema(broker, userRepo, messageRepo)
	if err != nil {
		return fmt.Errorf("building graphql schema: %w", err)
	}
	gqlHandler := graphqlapi.NewHandler(schema, func(r *http.Request) context.Context {
		return authContextFromRequest(r, verifier)
	}, log)

	var httpSrv *httpapi.Server
	if cfg.HTTP.Enabled {
		cors := &httpapi.CORSConfig{
			Enabled: cfg.HTTP.CORSEnabled,
			Origins: cfg.HTTP.CORSOrigins,
			Methods: cfg.HTTP.CORSMethods,
			Headers: cfg.HTTP.CORSHeaders,
		}
		httpSrv = httpapi.NewServer(cfg.HTTP.Port, gqlHandler, connManager, handler, cors, cfg.HTTP.EnableMetrics, cfg.HTTP.EnableHealth, log)
		httpSrv.Mount("/ws", wsSrv)

		go func() {
			var startErr error
			switch {
			case cfg.HTTP.DualStack:
				startErr = httpSrv.StartDualStack(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile)
			case cfg.HTTP.HTTP3Enabled:
				startErr = httpSrv.StartHTTP3(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile)
			case cfg.HTTP.TLSEnabled:
				startErr = httpSrv.StartTLS(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile)
			default:
				startErr = httpSrv.Start()
			}
			if startErr != nil {
				log.Error("http front door exited", zap.Error(startErr))
			}
		}()
	}

	return waitForShutdown(log, tcpSrv, httpSrv, broker, tracingShutdown, cfg.TCP.DrainTimeout)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains in the order
// spec.md §5 Cancellation requires: stop accept, stop periodic tasks,
// close all connections, disconnect the broker — mirroring the
// teacher's sigChan/signal.Notify pattern in cmd/server/main.go.
func waitForShutdown(log *zap.Logger, tcpSrv *tcpserver.Server, httpSrv *httpapi.Server, broker *pubsub.Broker, tracingShutdown func(context.Context) error, drainTimeout time.Duration) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, draining")

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Warn("http front door shutdown error", zap.Error(err))
		}
	}
	if tcpSrv != nil {
		tcpSrv.Stop()
	}
	if err := broker.Disconnect(); err != nil {
		log.Warn("broker disconnect error", zap.Error(err))
	}
	if tracingShutdown != nil {
		if err := tracingShutdown(ctx); err != nil {
			log.Warn("tracing shutdown error", zap.Error(err))
		}
	}

	log.Info("shutdown complete")
	return nil
}

func buildRepositories(cfg config.Config) (repo.UserRepository, repo.MessageRepository, func(), error) {
	if cfg.Persistence.Driver == "postgres" {
		pool, err := pgxpool.New(context.Background(), cfg.Persistence.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return repo.NewPostgresUserRepository(pool), repo.NewPostgresMessageRepository(pool), pool.Close, nil
	}
	return repo.NewMemoryUserRepository(), repo.NewMemoryMessageRepository(), func() {}, nil
}

func buildBroker(cfg config.Config, log *zap.Logger) (*pubsub.Broker, error) {
	if cfg.PubSub.Adapter == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.PubSub.RedisAddr,
			Password: cfg.PubSub.RedisPassword,
			DB:       cfg.PubSub.RedisDB,
		})
		return pubsub.NewBroker(pubsub.NewRedisAdapter(client, "rtmsg-broker", log)), nil
	}
	return pubsub.NewBroker(pubsub.NewMemoryAdapter(cfg.PubSub.MemoryMaxMessages, log)), nil
}
