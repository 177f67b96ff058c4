package middleware

import (
	"github.com/labstack/echo/v4"
)

// apiResponseHeaders are set on every response. The service only serves
// JSON about one user's loan opportunities: nothing may be embedded, framed,
// sniffed or cached by a shared proxy. TLS terminates at the reverse proxy.
var apiResponseHeaders = [][2]string{
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{echo.HeaderXContentTypeOptions, "nosniff"},
	{echo.HeaderXFrameOptions, "DENY"},
	{echo.HeaderReferrerPolicy, "no-referrer"},
	{echo.HeaderCacheControl, "no-store"},
}

// SecurityHeaders stamps apiResponseHeaders before the handler runs, so
// error responses carry them too.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiResponseHeaders {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
