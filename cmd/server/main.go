package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gunko23/film-collective-sub003/internal/app"
	"github.com/gunko23/film-collective-sub003/internal/auth"
	"github.com/gunko23/film-collective-sub003/internal/config"
	"github.com/gunko23/film-collective-sub003/internal/log"
)

var (
	flagConfig   string
	flagAddr     string
	flagDBPath   string
	flagRedis    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "chatd",
	Short: "Realtime chat and presence service for the film collective",
	Long: `chatd serves channel messages, reactions, read receipts, typing
indicators and the live event stream behind the collective's discussion,
feed and movie threads.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		application, err := app.New(ctx, &cfg, logger)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}

		logger.Info().Str("addr", cfg.Addr).Msg("starting chat server")
		if err := application.Run(ctx); err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		logger.Info().Msg("server stopped")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id> <username>",
	Short: "Sign a development bearer token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		var userID int64
		if _, err := fmt.Sscanf(args[0], "%d", &userID); err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		jwtCfg := &auth.JWTConfig{
			Secret:   []byte(cfg.Auth.Secret),
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			TTL:      cfg.Auth.TTL,
		}
		if jwtCfg.TTL == 0 {
			jwtCfg.TTL = 24 * time.Hour
		}

		token, err := auth.GenerateToken(jwtCfg, userID, args[1])
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func loadConfig() (config.Config, *zerolog.Logger, error) {
	bootstrapLogger := log.New(flagLogLevel)

	cfg, path, err := config.Load(bootstrapLogger, flagConfig)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	cfg.UpdateFrom(config.Config{
		Addr:     flagAddr,
		DBPath:   flagDBPath,
		LogLevel: flagLogLevel,
	})
	if flagRedis != "" {
		cfg.Redis.Addr = flagRedis
	}

	return cfg, log.New(cfg.LogLevel), nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&flagDBPath, "db", "", "sqlite database path")
	serveCmd.Flags().StringVar(&flagRedis, "redis-addr", "", "redis address for the event buffer")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
