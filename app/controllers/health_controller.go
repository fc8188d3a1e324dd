package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/cache"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/database"
)

const healthTimeout = 2 * time.Second

// HealthController reports whether the central database and the cache answer
type HealthController struct {
	pingDB    func(ctx context.Context) error
	pingCache func(ctx context.Context) error
}

func NewHealthController() *HealthController {
	return &HealthController{
		pingDB:    pingCentralDB,
		pingCache: cache.Ping,
	}
}

func pingCentralDB(ctx context.Context) error {
	db := database.GetDB()
	if db == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "database not initialized")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	checks := fiber.Map{"database": "ok", "cache": "ok"}
	status := fiber.StatusOK
	if err := hc.pingDB(ctx); err != nil {
		fiberlog.Warnf("[Health] Database check failed: %v", err)
		checks["database"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	}
	if err := hc.pingCache(ctx); err != nil {
		fiberlog.Warnf("[Health] Cache check failed: %v", err)
		checks["cache"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": checks})
}
