package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipledger/backend/internal/config"
	"github.com/pipledger/backend/internal/logging"
	"github.com/pipledger/backend/internal/offline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipledger-agent",
		Short: "PipLedger offline sync agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
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
	cmd.PersistentFlags().String("queue-path", defaults.GetString("queue.path"), "Local queue database path")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("sync.remote_url"), "PipLedger API base URL")
	cmd.PersistentFlags().Int("sync-interval-minutes", defaults.GetInt("sync.interval_minutes"), "Minutes between sync passes")
	cmd.PersistentFlags().String("access-token", "", "API access token (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "queue.path", "queue-path")
	bindFlag(cmd, "sync.remote_url", "remote-url")
	bindFlag(cmd, "sync.interval_minutes", "sync-interval-minutes")
	bindFlag(cmd, "sync.access_token", "access-token")
	bindFlag(cmd, "log.level", "log-level")
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

func runAgent(ctx context.Context) error {
	agentConfig, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewConsoleLogger(agentConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	queueDB, err := offline.OpenQueueDB(agentConfig.QueuePath)
	if err != nil {
		return err
	}
	sqlDB, err := queueDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := offline.NewStore(offline.StoreConfig{
		Database:   queueDB,
		Clock:      time.Now,
		IDProvider: offline.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	device, err := os.Hostname()
	if err != nil {
		device = "pipledger-agent"
	}

	client, err := offline.NewAPIClient(offline.APIClientConfig{
		BaseURL:     agentConfig.RemoteURL,
		AccessToken: agentConfig.AccessToken,
		Device:      device,
	})
	if err != nil {
		return err
	}

	reconciler, err := offline.NewReconciler(offline.ReconcilerConfig{
		Store:  store,
		Remote: client,
		Device: device,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := offline.NewScheduler(offline.SchedulerConfig{
		Reconciler: reconciler,
		Interval:   agentConfig.SyncInterval,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sync agent starting",
		zap.String("queue_path", agentConfig.QueuePath),
		zap.String("remote_url", agentConfig.RemoteURL),
		zap.Duration("interval", agentConfig.SyncInterval))

	if err := scheduler.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	scheduler.Stop()
	logger.Info("sync agent stopped")
	return nil
}
