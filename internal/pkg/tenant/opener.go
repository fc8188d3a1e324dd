package tenant

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/env"
)

// MySQLOpener connects to tenant databases on MySQL. defaultPort is used
// when the domain's host has no explicit port.
func MySQLOpener(defaultPort string) Opener {
	return func(domain *models.Domain) (gorm.Dialector, error) {
		cfg := mysqldriver.NewConfig()
		cfg.User = domain.DBUsername
		cfg.Passwd = domain.DBPassword
		cfg.Net = "tcp"
		cfg.Addr = hostWithPort(domain.DBHost, defaultPort)
		cfg.DBName = domain.DBName
		cfg.ParseTime = true
		cfg.Loc = time.Local
		cfg.Timeout = 5 * time.Second
		cfg.Params = map[string]string{"charset": "utf8mb4"}

		return mysql.New(mysql.Config{
			DSNConfig:                 cfg,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), nil
	}
}

// SQLiteOpener stores each tenant database as <dir>/<db name>.db
func SQLiteOpener(dir string) Opener {
	return func(domain *models.Domain) (gorm.Dialector, error) {
		name := domain.DBName
		if strings.ContainsAny(name, `/\`) {
			return nil, os.ErrInvalid
		}
		if !strings.HasSuffix(name, ".db") {
			name += ".db"
		}
		return sqlite.Open(filepath.Join(dir, name)), nil
	}
}

// OpenerFromEnv selects the tenant driver from TENANT_DB_DRIVER
func OpenerFromEnv() Opener {
	if env.GetEnv("TENANT_DB_DRIVER", "mysql") == "sqlite" {
		return SQLiteOpener(env.GetEnv("TENANT_DB_DIR", "./tenants"))
	}
	return MySQLOpener(env.GetEnv("TENANT_DB_PORT", "3306"))
}

func hostWithPort(host, defaultPort string) string {
	host = strings.TrimSpace(host)
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}
