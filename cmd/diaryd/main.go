package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/diarysync/internal/config"
	"github.com/agentworkforce/diarysync/internal/diarystore"
	"github.com/agentworkforce/diarysync/internal/httpapi"
	"github.com/agentworkforce/diarysync/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	v := config.New()
	var configFile string

	root := &cobra.Command{
		Use:          "diaryd",
		Short:        "Serve diary documents over HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadConfig(v, configFile, stderr)
			if err != nil {
				return err
			}
			defer closeLog.Close()
			return serve(cmd.Context(), cfg, logger)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	root.Flags().String("addr", "", "listen address (DIARYSYNC_ADDR)")
	root.Flags().String("store-dsn", "", "document store DSN: memory://, file:///path.json or postgres://... (DIARYSYNC_STORE_DSN)")
	root.PersistentFlags().String("log-level", "", "log level (DIARYSYNC_LOG_LEVEL)")
	_ = v.BindPFlag(config.KeyAddr, root.Flags().Lookup("addr"))
	_ = v.BindPFlag(config.KeyStoreDSN, root.Flags().Lookup("store-dsn"))
	_ = v.BindPFlag(config.KeyLogLevel, root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newTokenCommand(v, &configFile))
	return root
}

func newTokenCommand(v *viper.Viper, configFile *string) *cobra.Command {
	var (
		subject string
		scopes  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive, got %s", ttl)
			}
			token, err := httpapi.SignToken(cfg.Server.JWTSecret, subject, splitScopes(scopes), time.Now().Add(ttl))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject; documents are stored per subject")
	cmd.Flags().StringVar(&scopes, "scopes", httpapi.ScopeRead+","+httpapi.ScopeWrite, "comma-separated scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func loadConfig(v *viper.Viper, configFile string, stderr io.Writer) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		File:      cfg.Log.File,
		Writer:    stderr,
		Component: "diaryd",
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	for _, warning := range cfg.Warnings {
		logger.Warn().Msg(warning)
	}
	return cfg, logger, closer, nil
}

func newServer(cfg *config.Config, logger *zerolog.Logger) (*httpapi.Server, diarystore.Store, error) {
	store, err := diarystore.BuildFromDSN(cfg.Server.StoreDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize document store: %w", err)
	}
	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		JWTSecret:       cfg.Server.JWTSecret,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Logger:          logger,
	})
	return server, store, nil
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	handler, store, err := newServer(cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Server.JWTSecret == "dev-secret" {
		logger.Warn().Msg("using the development JWT secret; set DIARYSYNC_JWT_SECRET")
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("store", storeScheme(cfg.Server.StoreDSN)).Msg("diaryd listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("diaryd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func splitScopes(raw string) []string {
	var out []string
	for _, scope := range strings.Split(raw, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}

// storeScheme keeps credentials in a postgres DSN out of the log.
func storeScheme(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return dsn[:i]
	}
	return "file"
}
