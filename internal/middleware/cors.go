package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	portalAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}, ", ")
	portalAllowHeaders = strings.Join([]string{
		echo.HeaderContentType, echo.HeaderAuthorization, csrfHeaderName,
	}, ", ")
	// Rate limit state is readable by the portal so it can back off.
	portalExposeHeaders = strings.Join([]string{
		echo.HeaderRetryAfter, "X-RateLimit-Limit", "X-RateLimit-Remaining",
	}, ", ")
)

// PortalCORS lets the broker portal call /api/v1 from its own origin with
// the session cookie. Only the listed origins are echoed back. There is no
// wildcard: every response carries one user's opportunities.
//
// Origins are compared without a trailing slash, so BASE_URL may be given
// either way.
func PortalCORS(origins ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			h := c.Response().Header()
			h.Add(echo.HeaderVary, echo.HeaderOrigin)

			origin := req.Header.Get(echo.HeaderOrigin)
			if _, ok := allowed[origin]; origin == "" || !ok {
				// Same-origin, or a foreign site the browser will block.
				return next(c)
			}

			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			h.Set(echo.HeaderAccessControlAllowCredentials, "true")

			if req.Method != http.MethodOptions {
				h.Set(echo.HeaderAccessControlExposeHeaders, portalExposeHeaders)
				return next(c)
			}

			h.Set(echo.HeaderAccessControlAllowMethods, portalAllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, portalAllowHeaders)
			h.Set(echo.HeaderAccessControlMaxAge, "3600")
			return c.NoContent(http.StatusNoContent)
		}
	}
}
