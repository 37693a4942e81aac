package middleware

import "github.com/gin-gonic/gin"

// DefaultContentSecurityPolicy forbids every resource; the API only serves JSON.
const DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// hardeningHeaders are set on every response. Bodies may carry invitation
// tokens, TOTP secrets or backup codes, so nothing is cacheable.
var hardeningHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", DefaultContentSecurityPolicy},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

// SecurityHeaders applies hardeningHeaders before the handler runs.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range hardeningHeaders {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}
