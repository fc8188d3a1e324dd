package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantdesk"

var (
	gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_gateway_requests_total",
		Help:      "Billing gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	packageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "package_operations_total",
		Help:      "Package coordinator operations by kind and outcome.",
	}, []string{"operation", "outcome"})

	tenantActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_activations_total",
		Help:      "Tenant database activations by outcome.",
	}, []string{"outcome"})

	auditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_write_failures_total",
		Help:      "Audit log entries that could not be written.",
	})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveGateway counts a billing gateway call
func ObserveGateway(operation string, err error) {
	gatewayRequests.WithLabelValues(operation, outcome(err)).Inc()
}

// ObservePackageOperation counts a package create/update/delete
func ObservePackageOperation(operation string, err error) {
	packageOperations.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveTenantActivation counts a tenant connection activation
func ObserveTenantActivation(err error) {
	tenantActivations.WithLabelValues(outcome(err)).Inc()
}

// IncAuditWriteFailure counts an audit entry that was lost
func IncAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// Handler exposes the default prometheus registry
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
