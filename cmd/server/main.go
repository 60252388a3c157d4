package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/api"
	"github.com/nightfall-hq/gatehouse/internal/app"
	"github.com/nightfall-hq/gatehouse/internal/app/maintenance"
	iauth "github.com/nightfall-hq/gatehouse/internal/auth"
	"github.com/nightfall-hq/gatehouse/internal/auth/mfa"
	"github.com/nightfall-hq/gatehouse/internal/cache"
	"github.com/nightfall-hq/gatehouse/internal/database"
	"github.com/nightfall-hq/gatehouse/internal/graph"
	"github.com/nightfall-hq/gatehouse/internal/services"
	"github.com/nightfall-hq/gatehouse/pkg/logger"
	"github.com/nightfall-hq/gatehouse/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gatehouse-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	encryptionKey, err := resolveEncryptionKey(cfg, log)
	if err != nil {
		return err
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	dbStore := cache.NewDatabaseStore(db)

	sessionSvc, err := iauth.NewSessionService(db, iauth.SessionConfig{
		MaxPerUser: cfg.Auth.Session.MaxPerUser,
		Cache:      iauth.NewStoreSessionCache(dbStore),
	})
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	twoFactorSvc, err := mfa.NewService(db, encryptionKey, mfa.WithIssuer(cfg.Auth.TwoFactor.Issuer))
	if err != nil {
		return fmt.Errorf("initialise two-factor service: %w", err)
	}

	authenticator, err := iauth.NewAuthenticator(db, sessionSvc, twoFactorSvc)
	if err != nil {
		return fmt.Errorf("initialise authenticator: %w", err)
	}

	mailer := buildMailer(cfg, log)

	verificationSvc, err := services.NewEmailVerificationService(db, mailer,
		services.WithVerificationBaseURL(cfg.Email.Verification.BaseURL),
		services.WithVerificationExpiry(cfg.Email.Verification.Expiry),
	)
	if err != nil {
		return fmt.Errorf("initialise verification service: %w", err)
	}

	accountSvc, err := services.NewAccountService(db, verificationSvc)
	if err != nil {
		return fmt.Errorf("initialise account service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		cleaner := maintenance.NewCleaner(db, sessionSvc, verificationSvc,
			maintenance.WithSessionSchedule(cfg.Maintenance.Schedule),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	resolver, err := graph.NewResolver(accountSvc, verificationSvc, authenticator, sessionSvc, twoFactorSvc)
	if err != nil {
		return fmt.Errorf("initialise resolver: %w", err)
	}

	router, err := api.NewRouter(db, resolver, cfg.Server.GraphiQL)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

// resolveEncryptionKey decodes the configured key for TOTP secret storage,
// generating an ephemeral one when unset. An ephemeral key invalidates stored
// secrets across restarts, so it is only suitable for development.
func resolveEncryptionKey(cfg *app.Config, log *zap.Logger) ([]byte, error) {
	raw := strings.TrimSpace(cfg.Auth.EncryptionKey)
	if raw == "" {
		generated, err := app.GenerateKey(32)
		if err != nil {
			return nil, fmt.Errorf("generate encryption key: %w", err)
		}
		log.Warn("auth.encryption_key not configured; generated an ephemeral key")
		raw = generated
	}

	key, err := app.DecodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("auth.encryption_key must decode to 16, 24, or 32 bytes (current: %d)", len(key))
	}
}

func buildMailer(cfg *app.Config, log *zap.Logger) mail.Mailer {
	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
			Enabled:  true,
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			From:     cfg.Email.SMTP.From,
			UseTLS:   cfg.Email.SMTP.UseTLS,
			Timeout:  cfg.Email.SMTP.Timeout,
		})
		if err == nil {
			return mailer
		}
		log.Warn("smtp unavailable; logging outbound mail instead", zap.Error(err))
	}
	return &mail.LogMailer{Log: logger.WithModule("mail")}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
