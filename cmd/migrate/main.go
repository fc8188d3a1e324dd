package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/database"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/env"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

const (
	centralSource = "file://migrations/central"
	tenantSource  = "file://migrations/tenant"
)

func main() {
	env.SetupEnvFile()

	target := flag.String("target", "central", "database to migrate: central or tenant")
	domainID := flag.Uint("domain", 0, "tenant domain id (0 migrates every active domain)")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	switch *target {
	case "central":
		log.Printf("Connecting to central database: %s@%s:%s/%s",
			env.GetEnv("DB_USER", "tenantdesk"),
			env.GetEnv("DB_HOST", "db"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", "tenantdesk"),
		)
		if err := run(centralSource, centralURL(), command, args); err != nil {
			log.Fatalf("Central migration failed: %v", err)
		}
	case "tenant":
		if err := migrateTenants(*domainID, command, args); err != nil {
			log.Fatalf("Tenant migration failed: %v", err)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func centralURL() string {
	cfg := mysqldriver.NewConfig()
	cfg.User = env.GetEnv("DB_USER", "tenantdesk")
	cfg.Passwd = env.GetEnv("DB_PASSWORD", "tenantdesk")
	cfg.Net = "tcp"
	cfg.Addr = env.GetEnv("DB_HOST", "db") + ":" + env.GetEnv("DB_PORT", "3306")
	cfg.DBName = env.GetEnv("DB_NAME", "tenantdesk")
	cfg.MultiStatements = true
	return "mysql://" + cfg.FormatDSN()
}

func tenantURL(domain *models.Domain) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = domain.DBUsername
	cfg.Passwd = domain.DBPassword
	cfg.Net = "tcp"
	cfg.Addr = domain.DBHost
	if _, _, err := net.SplitHostPort(domain.DBHost); err != nil {
		cfg.Addr = domain.DBHost + ":" + env.GetEnv("TENANT_DB_PORT", "3306")
	}
	cfg.DBName = domain.DBName
	cfg.MultiStatements = true
	return "mysql://" + cfg.FormatDSN()
}

func migrateTenants(domainID uint, command string, args []string) error {
	database.SetupDatabase()
	domains := repository.NewDomainRepository(database.GetDB())

	var targets []models.Domain
	if domainID != 0 {
		d, err := domains.GetByID(domainID)
		if err != nil {
			return fmt.Errorf("domain %d: %w", domainID, err)
		}
		targets = append(targets, *d)
	} else {
		active, err := domains.ListActive()
		if err != nil {
			return err
		}
		targets = active
	}

	var failed []string
	for i := range targets {
		d := &targets[i]
		log.Printf("Migrating tenant %s (domain %d, database %s)", d.Name, d.ID, d.DBName)
		var err error
		if env.GetEnv("TENANT_DB_DRIVER", "mysql") == "sqlite" {
			err = autoMigrate(d, command)
		} else {
			err = run(tenantSource, tenantURL(d), command, args)
		}
		if err != nil {
			log.Printf("Tenant %s failed: %v", d.Name, err)
			failed = append(failed, d.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d tenant(s) failed: %v", len(failed), len(targets), failed)
	}
	return nil
}

// autoMigrate prepares a local sqlite tenant database from the models
func autoMigrate(domain *models.Domain, command string) error {
	if command != "up" {
		return fmt.Errorf("sqlite tenants only support up, got %q", command)
	}
	dialector, err := tenant.OpenerFromEnv()(domain)
	if err != nil {
		return err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.AutoMigrate(models.TenantModels()...); err != nil {
		return err
	}
	return models.SeedPermissions(db)
}

func run(source, dbURL, command string, args []string) error {
	m, err := migrate.New(source, dbURL)
	if err != nil {
		return fmt.Errorf("init migration: %w", err)
	}
	m.LockTimeout = 30 * time.Second
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Error closing migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No changes: database is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		log.Println("Migrations applied")

	case "down":
		// Roll back the most recent migration
		if err := m.Steps(-1); err != nil {
			return err
		}
		log.Println("Rolled back the last migration")

	case "goto":
		if len(args) < 1 {
			return errors.New("goto needs a version number")
		}
		version, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		err = m.Migrate(uint(version))
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("No changes: database is already at version %d", version)
			return nil
		}
		if err != nil {
			return err
		}
		log.Printf("Migrated to version %d", version)

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations have been applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		log.Printf("Current migration version: %d%s", version, dirtyStatus)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [-target central|tenant] [-domain ID] <command>")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
