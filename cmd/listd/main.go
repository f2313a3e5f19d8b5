package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pantrylabs/listd/internal/analytics"
	"github.com/pantrylabs/listd/internal/auth"
	"github.com/pantrylabs/listd/internal/config"
	"github.com/pantrylabs/listd/internal/database"
	"github.com/pantrylabs/listd/internal/identity"
	"github.com/pantrylabs/listd/internal/list"
	"github.com/pantrylabs/listd/internal/logging"
	"github.com/pantrylabs/listd/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "listd",
		Short: "Shared shopping list sync service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("page.size"), "Default partition page size")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "page.size", "page-size")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "listd-auth",
		Audience:      "listd-api",
		TokenTTL:      time.Duration(appConfig.TokenTTLMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}

	identityService, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The daemon acts as its own writer session: the store subscription is
	// gated on an established identity, so resolve one before wiring the core.
	session := identity.NewSession()
	subject, err := identityService.NewSubject()
	if err != nil {
		return err
	}
	writerID, err := identityService.Resolve(signalCtx, subject)
	if err != nil {
		return err
	}
	session.Establish(writerID)

	eventSink, err := analytics.NewSink(analytics.SinkConfig{
		Database:   db,
		IDProvider: list.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	store, err := list.NewStore(list.StoreConfig{
		Database:   db,
		IDProvider: list.NewUUIDProvider(),
		Writers:    session,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	listService, err := list.NewService(list.ServiceConfig{
		Store:    store,
		Writers:  session,
		Events:   eventSink,
		Logger:   logger,
		PageSize: appConfig.PageSize,
	})
	if err != nil {
		return err
	}

	cancelProjection, err := listService.Start(signalCtx)
	if err != nil {
		return err
	}
	defer cancelProjection()

	dispatcher := server.NewRealtimeDispatcher()
	cancelFanout, err := store.Subscribe(signalCtx, func(snapshot list.Snapshot) {
		dispatcher.Broadcast(server.RealtimeMessage{
			EventType: server.RealtimeEventListChanged,
			Snapshot:  snapshot,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	defer cancelFanout()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		ListService:  listService,
		Identity:     identityService,
		Dispatcher:   dispatcher,
		PageSize:     appConfig.PageSize,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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
