package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
)

// ObjectPutter is the part of the S3 API the exporter needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Result describes one uploaded export file
type Result struct {
	BucketName string `json:"bucket"`
	ObjectKey  string `json:"key"`
	Entries    int    `json:"entries"`
	Size       int64  `json:"size"`
}

// Exporter writes activity log ranges to S3 as JSON lines
type Exporter struct {
	s3     ObjectPutter
	logs   repository.ActivityLogRepository
	config *Config
	newID  func() string
}

// NewExporter creates an exporter backed by a real S3 client
func NewExporter(cfg *Config, logs repository.ActivityLogRepository) (*Exporter, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("audit export is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	log.Infof("[AuditExport] Initialized S3 export for bucket: %s", cfg.BucketName)
	return NewExporterWithClient(cfg, logs, client), nil
}

// NewExporterWithClient creates an exporter on an existing S3 client
func NewExporterWithClient(cfg *Config, logs repository.ActivityLogRepository, client ObjectPutter) *Exporter {
	return &Exporter{s3: client, logs: logs, config: cfg, newID: uuid.NewString}
}

// Export uploads every entry created in [from, to) for the domain, or for
// all domains when domainID is nil
func (e *Exporter) Export(ctx context.Context, domainID *uint, from, to time.Time) (*Result, error) {
	if !to.After(from) {
		return nil, apperror.Validation(map[string]string{"to": "must be after from"})
	}

	entries, err := e.logs.ListRange(domainID, from, to)
	if err != nil {
		return nil, apperror.Fatal(err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, apperror.Fatal(err)
		}
	}

	key := e.config.ObjectKey(domainID, from, to, e.newID())
	size := int64(buf.Len())
	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String("application/x-ndjson"),
		ContentLength: aws.Int64(size),
		Metadata: map[string]string{
			"entries":       fmt.Sprintf("%d", len(entries)),
			"upload-source": "tenantdesk-audit",
		},
	})
	if err != nil {
		log.Errorf("[AuditExport] Upload of s3://%s/%s failed: %v", e.config.BucketName, key, err)
		return nil, apperror.Wrap(err, apperror.KindFatal, "failed to upload audit export")
	}

	log.Infof("[AuditExport] Exported %d entries to s3://%s/%s", len(entries), e.config.BucketName, key)
	return &Result{
		BucketName: e.config.BucketName,
		ObjectKey:  key,
		Entries:    len(entries),
		Size:       size,
	}, nil
}
