package auditexport

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/env"
)

// Config holds the S3 settings of the audit export
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads the export configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_AUDIT_PREFIX", "audit"),
		Enabled:         env.GetEnv("S3_AUDIT_EXPORT_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the audit export is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the audit export is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the audit export is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if the audit export is enabled
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// ObjectKey builds the key of one export file
// Format: <prefix>/<domain|all>/YYYY/MM/<from>_<to>_<id>.jsonl
func (c *Config) ObjectKey(domainID *uint, from, to time.Time, id string) string {
	scope := "all"
	if domainID != nil {
		scope = fmt.Sprintf("domain-%d", *domainID)
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = "audit"
	}
	return fmt.Sprintf("%s/%s/%04d/%02d/%s_%s_%s.jsonl",
		prefix, scope, from.Year(), int(from.Month()),
		from.UTC().Format("20060102T150405Z"), to.UTC().Format("20060102T150405Z"), id)
}
