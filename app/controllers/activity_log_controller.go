package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/auditexport"
)

// ActivityLogController shows and exports the audit trail of the active domain
type ActivityLogController struct {
	logs     repository.ActivityLogRepository
	exporter *auditexport.Exporter
}

// NewActivityLogController creates the controller. exporter may be nil
// when the export is disabled.
func NewActivityLogController(repos *repository.Repositories, exporter *auditexport.Exporter) *ActivityLogController {
	return &ActivityLogController{logs: repos.ActivityLog, exporter: exporter}
}

// HandleIndex lists the newest entries of the active domain
func (ac *ActivityLogController) HandleIndex(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin", nil)
	}
	p, offset := page(c)
	entries, err := ac.logs.ListByDomain(conn.DomainID(), offset, defaultPageSize)
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin", nil)
	}
	total, err := ac.logs.CountByDomain(conn.DomainID())
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin", nil)
	}
	return render(c, "activity_logs.index", fiber.Map{
		"entries":   entries,
		"page":      p,
		"per_page":  defaultPageSize,
		"total":     total,
		"export_on": ac.exporter != nil,
		"domain":    conn.Domain,
	})
}

type exportForm struct {
	From string `json:"from" form:"from"`
	To   string `json:"to" form:"to"`
}

// HandleExport uploads the entries of a date range. Both dates are
// inclusive days.
func (ac *ActivityLogController) HandleExport(c *fiber.Ctx) error {
	if ac.exporter == nil {
		return respondError(c, apperror.Conflict("the activity log export is not configured"), "/admin/activity-logs", nil)
	}
	var form exportForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, "/admin/activity-logs", nil)
	}
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/activity-logs", form)
	}

	fields := map[string]string{}
	from, err := dateParam(form.From)
	if err != nil {
		fields["from"] = "must be a date (YYYY-MM-DD)"
	}
	to, err := dateParam(form.To)
	if err != nil {
		fields["to"] = "must be a date (YYYY-MM-DD)"
	}
	if len(fields) > 0 {
		return respondError(c, apperror.Validation(fields), "/admin/activity-logs", form)
	}

	domainID := conn.DomainID()
	res, err := ac.exporter.Export(requestContext(c), &domainID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return respondError(c, err, "/admin/activity-logs", form)
	}
	return respondSuccess(c, "Exported activity log to "+res.ObjectKey, "/admin/activity-logs", res)
}
