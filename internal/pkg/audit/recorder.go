package audit

import (
	"context"
	"encoding/json"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/metrics"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/monitoring"
)

// reportFailure hands lost audit entries to operational monitoring
var reportFailure = monitoring.CaptureError

// Entry describes one mutation to be appended to the activity log
type Entry struct {
	DomainID    *uint
	Action      string
	Description string
	ModelType   string
	ModelID     string
	Old         interface{}
	New         interface{}
}

// Recorder appends activity log entries to the central database
type Recorder struct {
	repo repository.ActivityLogRepository
}

func NewRecorder(repo repository.ActivityLogRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record appends an entry. It never fails the caller: write errors are
// logged and reported to monitoring. Call it only after the change committed.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.repo == nil {
		return
	}
	origin := OriginFrom(ctx)

	entry := &models.ActivityLog{
		UserID:      origin.ActorID,
		DomainID:    e.DomainID,
		Action:      e.Action,
		Description: e.Description,
		ModelType:   e.ModelType,
		ModelID:     e.ModelID,
		IPAddress:   origin.IP,
		UserAgent:   origin.UserAgent,
	}

	var err error
	if entry.OldValues, err = Snapshot(e.Old); err != nil {
		r.fail(e, fmt.Errorf("encode old values: %w", err))
		return
	}
	if entry.NewValues, err = Snapshot(e.New); err != nil {
		r.fail(e, fmt.Errorf("encode new values: %w", err))
		return
	}

	if err := r.repo.Create(entry); err != nil {
		r.fail(e, err)
	}
}

func (r *Recorder) fail(e Entry, err error) {
	fiberlog.Errorf("[Audit] Failed to record %s of %s %s: %v", e.Action, e.ModelType, e.ModelID, err)
	metrics.IncAuditWriteFailure()
	extras := map[string]interface{}{
		"action":      e.Action,
		"model_type":  e.ModelType,
		"model_id":    e.ModelID,
		"description": e.Description,
	}
	if e.DomainID != nil {
		extras["domain_id"] = *e.DomainID
	}
	reportFailure(err, "audit log write failed", extras)
}

// Snapshot encodes v as JSON for the old/new value columns; nil stays nil
func Snapshot(v interface{}) (*string, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(*string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	out := string(b)
	return &out, nil
}

// DomainSelected records the activation of a domain's database. It matches
// the signature of tenant activation observers.
func (r *Recorder) DomainSelected(ctx context.Context, domain *models.Domain) {
	if domain == nil {
		return
	}
	id := domain.ID
	r.Record(ctx, Entry{
		DomainID:    &id,
		Action:      models.ACTION_SELECT,
		Description: fmt.Sprintf("Selected domain %s", domain.Name),
		ModelType:   "Domain",
		ModelID:     domain.TenantID(),
	})
}
