// Package main implements the helppages CLI: the API server plus maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"helppages/api/internal/app"
	"helppages/api/internal/assets"
	"helppages/api/internal/config"
	"helppages/api/internal/email"
	"helppages/api/internal/export"
	"helppages/api/internal/gitrepo"
	"helppages/api/internal/logging"
	"helppages/api/internal/metrics"
	"helppages/api/internal/search"
	"helppages/api/internal/session"
	"helppages/api/internal/site"
	"helppages/api/internal/store"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "helppages",
	Short: "Multi-tenant help documentation service",
	Long: `helppages serves the editing API and the published doc sites.

Configuration is read from the environment (and a .env file when present).
Running without a subcommand starts the server.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(publishDueCmd)
}

// components holds the wired components shared by every subcommand.
type components struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *sqlx.DB
	redis    *redis.Client
	search   *search.Service
	metrics  *metrics.Metrics
	site     *site.Handler
	service  *app.Service
	closeFns []func()
}

func (rt *components) Close() {
	for i := len(rt.closeFns) - 1; i >= 0; i-- {
		rt.closeFns[i]()
	}
	_ = rt.logger.Sync()
}

// openDatabase loads config, builds the logger, connects and migrates.
func openDatabase(ctx context.Context) (*components, error) {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &components{cfg: cfg, logger: logger}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.db = db
	rt.closeFns = append(rt.closeFns, func() { _ = db.Close() })

	applied, err := store.ApplyMigrations(ctx, db, store.Migrations(cfg.MigrationsDir))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}
	return rt, nil
}

// build wires every optional integration around the database.
func build(ctx context.Context) (*components, error) {
	rt, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	cfg, logger := rt.cfg, rt.logger

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create repos dir: %w", err)
	}

	dataStore := store.NewPostgresStore(rt.db)
	deps := app.Deps{
		Store:  dataStore,
		Git:    gitrepo.New(cfg.ReposDir),
		Logger: logger,
	}

	var siteCache *site.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.redis = client
		rt.closeFns = append(rt.closeFns, func() { _ = client.Close() })
		deps.Sessions = session.NewRedisStoreWithClient(client)
		siteCache = site.NewCache(client, cfg.SiteCacheTTL)
		logger.Info("using redis for refresh sessions and site cache")
	} else {
		logger.Info("using postgres for refresh sessions")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
	}
	rt.search = search.NewService(meiliClient, search.NewPgFTS(rt.db), logger.Named("search"))
	rt.closeFns = append(rt.closeFns, rt.search.Close)
	deps.Search = rt.search

	var pdf export.PDFRenderer
	if export.ChromeAvailable() {
		pdf = export.ChromePDF
	} else {
		logger.Warn("chrome not found, pdf export disabled")
	}
	deps.Export = export.NewService(pdf)

	deps.Mail = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		objects, err := assets.NewMinioStore(assets.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("object storage: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Warn("asset bucket unavailable", zap.Error(err))
		}
		deps.Assets = assets.NewService(objects)
	} else {
		deps.Assets = assets.NewService(nil)
	}

	rt.metrics = metrics.New()
	deps.Metrics = rt.metrics
	rt.site = site.New(site.Options{
		Store:   dataStore,
		Search:  rt.search,
		Cache:   siteCache,
		Metrics: rt.metrics,
		Logger:  logger.Named("site"),
		DocURL:  cfg.PublicDocURL,
	})
	deps.Site = rt.site

	rt.service = app.New(cfg, deps)
	rt.closeFns = append(rt.closeFns, rt.service.Close)
	return rt, nil
}
