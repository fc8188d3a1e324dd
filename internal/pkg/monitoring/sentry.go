package monitoring

import (
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/env"
)

const serviceName = "tenantdesk"

// Setup initializes sentry when SENTRY_DSN is configured. The returned
// function flushes buffered events and is safe to call when disabled.
func Setup() func() {
	dsn := env.GetEnv("SENTRY_DSN", "")
	if dsn == "" {
		return func() {}
	}

	opts := sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env.GetEnv("SENTRY_ENVIRONMENT", env.GetEnv("APP_ENV", "prod")),
		Release:     env.GetEnv("SENTRY_RELEASE", ""),
	}
	if host, _ := os.Hostname(); host != "" {
		opts.ServerName = host
	}

	if err := sentry.Init(opts); err != nil {
		log.Printf("Sentry initialization failed: %v", err)
		return func() {}
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("service", serviceName)
	})

	return func() {
		sentry.Flush(2 * time.Second)
	}
}

// CaptureError reports an error or message to sentry with extra context.
func CaptureError(err error, message string, extras map[string]interface{}) {
	if err == nil && message == "" {
		return
	}

	hub := sentry.CurrentHub()
	if hub == nil {
		return
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("service", serviceName)
		if message != "" {
			scope.SetExtra("context", message)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}

		if err != nil {
			hub.CaptureException(err)
		} else {
			hub.CaptureMessage(message)
		}
	})
}
