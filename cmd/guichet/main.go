package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opsdesk/guichet/pkg/api"
	"github.com/opsdesk/guichet/pkg/audit"
	"github.com/opsdesk/guichet/pkg/config"
	"github.com/opsdesk/guichet/pkg/middleware"
	"github.com/opsdesk/guichet/pkg/notify"
	"github.com/opsdesk/guichet/pkg/observability"
	"github.com/opsdesk/guichet/pkg/rbac"
	"github.com/opsdesk/guichet/pkg/request"
	"github.com/opsdesk/guichet/pkg/storage/postgres"
	"github.com/opsdesk/guichet/pkg/workflow"
)

const version = "1.0.0"

func main() {
	startup := logrus.New()
	startup.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		startup.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		startup.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer db.Close()
	startup.Info("Connected to postgres")

	repo := postgres.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		startup.Fatalf("Failed to migrate requests schema: %v", err)
	}
	if err := rbac.Migrate(ctx, db); err != nil {
		startup.Fatalf("Failed to migrate rbac schema: %v", err)
	}

	rbacStore := rbac.NewStore(db)
	if err := rbacStore.SeedBuiltInRoles(ctx); err != nil {
		startup.Fatalf("Failed to seed built-in roles: %v", err)
	}
	startup.Info("Schema migrated, built-in roles seeded")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		startup.Fatalf("Failed to initialize audit logger: %v", err)
	}
	auditLog := audit.NewMultiLogger(dbAudit)
	auditLog.SetAsync(true)
	defer auditLog.Close()

	retention := audit.NewRetentionWorker(dbAudit, cfg.Audit.Policy(), func(deleted int64, err error) {
		if err != nil {
			logger.Error("audit purge failed", "error", err)
			return
		}
		logger.Info("audit purge complete", "deleted", deleted)
	})
	if err := retention.Start(); err != nil {
		startup.Fatalf("Failed to start audit retention worker: %v", err)
	}
	defer retention.Stop()

	var notifier notify.Notifier = notify.NopNotifier{}
	var webhook *notify.WebhookNotifier
	if cfg.Notify.Enabled() {
		webhook = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret,
			func(n notify.Notification, err error) {
				logger.Error("notification delivery failed",
					"event", string(n.Event), "recipient", n.RecipientID, "error", err)
			})
		notifier = webhook
		defer webhook.Wait()
		startup.Infof("Webhook notifications enabled: %s", cfg.Notify.WebhookURL)
	}

	gate := rbac.NewGate()
	engine := workflow.NewEngine(repo, gate,
		workflow.WithAuditLogger(auditLog),
		workflow.WithNotifier(notifier),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
	)

	server := api.NewServer(engine, repo, gate,
		api.WithDirectory(rbacStore),
		api.WithAuditSearcher(dbAudit),
		api.WithServerLogger(logger),
	)

	chain := middleware.Chain(
		middleware.RecoveryMiddleware(logger),
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(logger, metrics),
		middleware.NewActorMiddleware(rbacStore).Handler,
	)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      chain(server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, version)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if metrics != nil {
		group.Go(func() error {
			sampleGauges(groupCtx, db, repo, metrics, logger)
			return nil
		})
	}
	group.Go(func() error {
		startup.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		startup.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		startup.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown failed", "error", err)
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		startup.Fatalf("Server error: %v", err)
	}
	startup.Info("Shutdown complete")
}

// sampleGauges periodically refreshes the DB pool and per-status gauges.
func sampleGauges(ctx context.Context, db *sql.DB, repo *postgres.Repository, metrics *observability.Metrics, logger *observability.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))

			counts, err := repo.CountByStatus(ctx)
			if err != nil {
				logger.Error("status gauge refresh failed", "error", err)
				continue
			}
			for _, status := range request.AllStatuses() {
				metrics.RequestsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
			}
		}
	}
}
