package middleware

import (
	"github.com/labstack/echo/v4"
)

// securityHeaders suit a JSON API whose responses carry patient identifiers,
// which must never be framed or cached.
var securityHeaders = map[string]string{
	echo.HeaderXContentTypeOptions:   "nosniff",
	echo.HeaderXFrameOptions:         "DENY",
	echo.HeaderContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	echo.HeaderReferrerPolicy:        "no-referrer",
	"Cache-Control":                  "no-store",
}

const hsts = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets securityHeaders on every response, and
// Strict-Transport-Security on those served over HTTPS. Browsers ignore
// HSTS on plain HTTP.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range securityHeaders {
				h.Set(k, v)
			}
			if c.Scheme() == "https" {
				h.Set(echo.HeaderStrictTransportSecurity, hsts)
			}
			return next(c)
		}
	}
}
