package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipledger/backend/internal/auth"
	"github.com/pipledger/backend/internal/config"
	"github.com/pipledger/backend/internal/credits"
	"github.com/pipledger/backend/internal/database"
	"github.com/pipledger/backend/internal/journal"
	"github.com/pipledger/backend/internal/logging"
	"github.com/pipledger/backend/internal/notifier"
	"github.com/pipledger/backend/internal/server"
	"github.com/pipledger/backend/internal/streaks"
	"github.com/pipledger/backend/internal/users"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipledger-api",
		Short: "PipLedger trading journal backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().Int64("starting-credits", defaults.GetInt64("credits.starting_balance"), "Credits granted to new accounts")
	cmd.PersistentFlags().Int64("monthly-allowance", defaults.GetInt64("credits.monthly_allowance"), "Free-tier monthly credit allowance")
	cmd.PersistentFlags().String("streak-timezone", defaults.GetString("streaks.timezone"), "IANA timezone for streak day boundaries")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "credits.starting_balance", "starting-credits")
	bindFlag(cmd, "credits.monthly_allowance", "monthly-allowance")
	bindFlag(cmd, "streaks.timezone", "streak-timezone")
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
		Issuer:        "pipledger-auth",
		Audience:      "pipledger-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	var creditNotifier credits.Notifier = notifier.Noop{}
	if appConfig.TelegramBotToken != "" {
		telegram, err := notifier.NewTelegram(notifier.TelegramConfig{
			BotToken: appConfig.TelegramBotToken,
			ChatID:   appConfig.TelegramChatID,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			creditNotifier = telegram
		}
	}

	streakLocation, err := time.LoadLocation(appConfig.StreakTimezone)
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:        db,
		Clock:           time.Now,
		IDProvider:      users.NewUUIDProvider(),
		StartingCredits: appConfig.StartingCredits,
	})
	if err != nil {
		return err
	}

	journalService, err := journal.NewService(journal.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: journal.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	creditsService, err := credits.NewService(credits.ServiceConfig{
		Database:         db,
		Clock:            time.Now,
		Logger:           logger,
		Notifier:         creditNotifier,
		MonthlyAllowance: appConfig.MonthlyAllowance,
	})
	if err != nil {
		return err
	}

	streaksService, err := streaks.NewService(streaks.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Location: streakLocation,
		Stats:    journalService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		UsersService:   usersService,
		JournalService: journalService,
		CreditsService: creditsService,
		StreaksService: streaksService,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	refillCron := cron.New()
	_, err = refillCron.AddFunc(appConfig.RefillCron, func() {
		refillCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		refilled, err := creditsService.RefillFreeTier(refillCtx)
		if err != nil {
			logger.Error("free tier refill failed", zap.Error(err))
			return
		}
		logger.Info("free tier refill completed", zap.Int64("accounts", refilled))
	})
	if err != nil {
		return err
	}
	refillCron.Start()
	defer refillCron.Stop()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
