package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/auditexport"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/billing"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/cache"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/database"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/env"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/metrics"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/monitoring"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/router"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/session"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

const tenantSweepInterval = 10 * time.Minute

func main() {
	app, shutdown := NewApplication()
	defer shutdown()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down")
		if err := app.Shutdown(); err != nil {
			log.Printf("Shutdown failed: %v", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

// NewApplication wires the services and returns the app plus a cleanup func
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	flushSentry := monitoring.Setup()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()
	recorder := audit.NewRecorder(repos.ActivityLog)

	tenants := tenant.NewRouter(
		tenant.OpenerFromEnv(),
		tenant.WithObserver(recorder.DomainSelected),
		tenant.WithIdleTimeout(session.Expiration),
	)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go tenants.RunSweeper(sweepCtx, tenantSweepInterval)

	svc := billing.NewService(
		billing.NewStripeGateway(billing.StripeConfigFromEnv()),
		recorder,
		billing.WithGatewayTimeout(env.GetEnvSeconds("BILLING_TIMEOUT_SECONDS", 0)),
		billing.WithWebhookStore(repos.WebhookEvent, repos.Domain, tenants),
		billing.WithLocker(cache.NewLocker(nil)),
	)

	exporter := newAuditExporter(repos)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "TenantDesk",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber and prometheus metrics
	metricsAuth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	})
	app.Get("/metrics", metricsAuth, monitor.New())
	app.Get("/metrics/prometheus", metricsAuth, metrics.Handler())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Repositories:  repos,
		Tenants:       tenants,
		Billing:       svc,
		Recorder:      recorder,
		Exporter:      exporter,
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	})

	return app, func() {
		stopSweeper()
		tenants.Close()
		flushSentry()
	}
}

func newAuditExporter(repos *repository.Repositories) *auditexport.Exporter {
	cfg, err := auditexport.LoadConfig()
	if err != nil {
		log.Printf("Audit export disabled: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	exporter, err := auditexport.NewExporter(cfg, repos.ActivityLog)
	if err != nil {
		log.Printf("Audit export disabled: %v", err)
		return nil
	}
	return exporter
}
