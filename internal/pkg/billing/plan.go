package billing

import (
	"math"
	"strings"

	"github.com/ManuelReschke/TenantDesk/app/models"
)

// ToMinorUnits converts a major-unit amount to gateway minor units
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func normalizeBillingType(billingType string) string {
	switch strings.ToLower(strings.TrimSpace(billingType)) {
	case models.BILLING_TYPE_MONTHLY, "month":
		return models.BILLING_TYPE_MONTHLY
	case models.BILLING_TYPE_YEARLY, "year":
		return models.BILLING_TYPE_YEARLY
	case models.BILLING_TYPE_UNIT, "unit-metered", "metered":
		return models.BILLING_TYPE_UNIT
	default:
		return ""
	}
}

// recurringInterval maps a billing type to the gateway's recurring interval
func recurringInterval(billingType string) string {
	if billingType == models.BILLING_TYPE_YEARLY {
		return "year"
	}
	return "month"
}

// isEntitlingStatus reports whether a subscription status keeps a package in use
func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}

// isCancellableStatus reports whether a subscription still needs cancelling
func isCancellableStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due", "incomplete", "unpaid":
		return true
	default:
		return false
	}
}
