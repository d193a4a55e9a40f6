// Package app wires configuration into the services shared by the server
// and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sendquill/sendquill/internal/auth"
	"github.com/sendquill/sendquill/internal/config"
	"github.com/sendquill/sendquill/internal/pkg/distlock"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/repository/postgres"
	"github.com/sendquill/sendquill/internal/service/campaign"
	"github.com/sendquill/sendquill/internal/service/contact"
	"github.com/sendquill/sendquill/internal/service/sending"
	"github.com/sendquill/sendquill/internal/service/template"
	"github.com/sendquill/sendquill/internal/tracking"
	"github.com/sendquill/sendquill/internal/transport/gmail"
	"github.com/sendquill/sendquill/internal/transport/ses"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client // nil when Redis is not configured

	Campaigns *campaign.Service
	Contacts  *contact.Service
	Templates *template.Service
	Sender    *sending.Sender
	Events    *postgres.EventRepo
	// Tokens is nil for transports that do not send as the user.
	Tokens *auth.TokenProvider
}

// SetupLogging applies level and optional rotating file output.
func SetupLogging(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.File == "" {
		return
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}))
}

// OpenDB connects to Postgres and verifies the connection.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis returns nil when url is empty or Redis is unreachable; callers
// then fall back to Postgres advisory locks.
func OpenRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		logger.Info("redis not configured, using postgres advisory locks")
		return nil
	}
	var client *redis.Client
	opts, err := redis.ParseURL(url)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: url})
	} else {
		client = redis.NewClient(opts)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to postgres advisory locks", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected, distributed locking enabled")
	return client
}

// New builds the full service graph from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rdb := OpenRedis(ctx, cfg.Redis.URL)

	a := &App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Campaigns: campaign.NewService(postgres.NewCampaignRepo(db)),
		Contacts:  contact.NewService(postgres.NewContactRepo(db)),
		Templates: template.NewService(postgres.NewTemplateRepo(db)),
		Events:    postgres.NewEventRepo(db),
	}

	var transport sending.Transport
	switch cfg.Transport.Kind {
	case "ses":
		t, err := ses.New(ctx, cfg.SES)
		if err != nil {
			a.Close()
			return nil, err
		}
		transport = t
	default:
		transport = gmail.New(cfg.Google.APIBaseURL)
		a.Tokens = auth.NewTokenProvider(cfg.Google, postgres.NewTokenRepo(db))
	}

	a.Sender = sending.NewSender(
		postgres.NewSendStore(db),
		transport,
		tracking.NewInjector(cfg.Tracking.BaseURL),
		sending.Config{
			SendTimeout: cfg.Sending.SendTimeout(),
			Locks:       distlock.NewFactory(rdb, db, cfg.Sending.LockTTL()),
		},
	)
	logger.Info("services initialized", "transport", string(transport.Kind()), "tracking_base", cfg.Tracking.BaseURL)
	return a, nil
}

// TokenSource yields a user's mail provider access token.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// AccessTokens returns Tokens as an interface, nil when the transport needs
// no user token.
func (a *App) AccessTokens() TokenSource {
	if a.Tokens == nil {
		return nil
	}
	return a.Tokens
}

// Close releases database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
