package audit

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the history endpoint on an authenticated group.
// access must resolve :oid and reject callers who cannot see the
// opportunity; it is supplied by the opportunities plugin.
func RegisterRoutes(g *echo.Group, h *Handler, access echo.MiddlewareFunc) {
	g.GET("/opportunities/:oid/history", h.OpportunityHistory, access)
}
