package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/cortexsync/internal/backend"
	"github.com/hitoshi/cortexsync/internal/config"
	"github.com/hitoshi/cortexsync/internal/credential"
	"github.com/hitoshi/cortexsync/internal/database"
	"github.com/hitoshi/cortexsync/internal/integration"
	"github.com/hitoshi/cortexsync/internal/metrics"
	"github.com/hitoshi/cortexsync/internal/scan"
	"github.com/hitoshi/cortexsync/internal/security"
	"github.com/hitoshi/cortexsync/internal/session"
	"github.com/hitoshi/cortexsync/internal/team"
	"github.com/hitoshi/cortexsync/internal/worker/scanpoll"
)

// dbPingTimeout はPostgreSQL接続確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// components は各コマンドで共有する依存関係。
type components struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB // CREDENTIAL_STORE=postgres の場合のみ非nil
	store    credential.Store
	registry *prometheus.Registry
	metrics  *metrics.Collector

	client     *backend.Client
	sessions   *session.Manager
	poller     *scanpoll.Poller
	reconciler *integration.Reconciler
	scans      *scan.Service
	team       *team.Service
}

// openStore は設定に応じた資格情報ストアを開く。
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credential.Store, *sql.DB, error) {
	switch cfg.CredentialStore {
	case config.CredentialStoreMemory:
		return credential.NewMemoryStore(), nil, nil
	case config.CredentialStorePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("データベースに接続しました")
		return credential.NewPostgresStore(db), db, nil
	default:
		return credential.NewFileStore(cfg.CredentialPath, logger), nil, nil
	}
}

// buildComponents は全依存関係をワイヤリングする。navはnilでもよい。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, nav session.Navigator) (*components, error) {
	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// BACKEND_RATE_LIMIT は req/min 単位のため req/sec に変換する
	client := backend.NewClient(
		&http.Client{Timeout: cfg.RequestTimeout},
		logger,
		backend.ClientConfig{
			BaseURL:   cfg.BackendURL,
			RateLimit: rate.Limit(float64(cfg.BackendRateLimit) / 60),
			Burst:     10,
			Metrics:   collector,
		},
	)

	sessions := session.NewManager(store, client, nav, logger, collector)
	poller := scanpoll.NewPoller(client, sessions, cfg.ScanPollInterval, logger, collector)
	reconciler := integration.NewReconciler(client, sessions, poller, logger, collector)

	return &components{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      store,
		registry:   registry,
		metrics:    collector,
		client:     client,
		sessions:   sessions,
		poller:     poller,
		reconciler: reconciler,
		scans:      scan.NewService(client, sessions, security.NewReportSanitizer(), logger),
		team:       team.NewService(client, sessions, logger),
	}, nil
}

// Close は保持しているリソースを解放する。
func (c *components) Close() error {
	var result *multierror.Error

	c.reconciler.Close()

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close database: %w", err))
		}
	}

	return result.ErrorOrNil()
}
