package usercontext

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
)

// ClientIP determines the client address considering proxy headers
func ClientIP(c *fiber.Ctx) string {
	// Cloudflare provides the original client IP in this header
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	// X-Forwarded-For can contain a list of IPs, the first one is the client
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	ip := c.IP()
	// IPv4-mapped IPv6 address (::ffff:192.168.1.1)
	if strings.HasPrefix(ip, "::ffff:") && strings.Contains(ip, ".") {
		return strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}

// RequestContext returns the request's context carrying the audit origin
func RequestContext(c *fiber.Ctx) context.Context {
	origin := audit.Origin{
		IP:        ClientIP(c),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
	if id := GetUserID(c); id != 0 {
		origin.ActorID = &id
	}
	return audit.WithOrigin(c.UserContext(), origin)
}
