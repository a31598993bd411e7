package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/c0st1nus/archischema-liveshare/internal/config"
	"github.com/c0st1nus/archischema-liveshare/internal/httpapi"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/auth"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/registry"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/room"
	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/storage"
	"github.com/c0st1nus/archischema-liveshare/internal/logging"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "liveshare-server",
		Short: "Archischema liveshare collaboration core",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-url", defaults.GetString("storage.database_url"), "Postgres connection string")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("storage.redis_addr"), "Redis address")
	cmd.PersistentFlags().String("jwt-signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("jwt-issuer", defaults.GetString("auth.jwt_issuer"), "Session token issuer")
	cmd.PersistentFlags().Int("max-users-per-room", defaults.GetInt("room.max_users"), "Default room capacity")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "storage.database_url", "database-url")
	bindFlag(cmd, "storage.redis_addr", "redis-addr")
	bindFlag(cmd, "auth.jwt_signing_secret", "jwt-signing-secret")
	bindFlag(cmd, "auth.jwt_issuer", "jwt-issuer")
	bindFlag(cmd, "room.max_users", "max-users-per-room")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.New(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	verifier := auth.NewTokenVerifier(auth.TokenConfig{
		SigningSecret: []byte(appConfig.JWTSigningSecret),
		Issuer:        appConfig.JWTIssuer,
	})
	oracle := auth.NewStaticOracle()

	rooms := registry.New(room.SystemClock)

	store, degraded, events := connectStorage(ctx, appConfig, logger)
	if store != nil {
		defer store.Close()
	}

	server := httpapi.NewServer(httpapi.Deps{
		Rooms:    rooms,
		Verifier: verifier,
		Oracle:   oracle,
		SessCfg:  appConfig.SessionConfig(),
		Logger:   logger,
		Store:    store,
		Events:   events,
		Degraded: degraded,
	})

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: server.Routes(),
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("liveshare server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// connectStorage dials Postgres and Redis, generalizing
// sumanthd032-CollabText/server/main.go's bare pgxpool.New/redis.NewClient
// calls. Connection failures are logged and the server proceeds in
// degraded, in-memory-only mode (spec.md §7 "StorageUnavailable") rather
// than refusing to start.
func connectStorage(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (storage.Port, *storage.DegradedModeCounter, *storage.EventBus) {
	degraded := storage.NewDegradedModeCounter(nil)

	var events *storage.EventBus
	rdb, err := storage.Dial(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, room event bus disabled", zap.Error(err))
		degraded.Incr(ctx)
	} else {
		logger.Info("connected to redis")
		events = storage.NewEventBus(rdb)
		degraded = storage.NewDegradedModeCounter(rdb)
	}

	var port storage.Port
	pg, err := storage.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("postgres unavailable, running in degraded mode", zap.Error(err))
		degraded.Incr(ctx)
	} else {
		logger.Info("connected to postgres")
		port = pg
	}

	return port, degraded, events
}
