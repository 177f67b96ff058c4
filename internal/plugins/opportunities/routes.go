package opportunities

import (
	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/plugins/auth"
)

// RegisterRoutes mounts the opportunity endpoints on an authenticated
// group. Status, unqualify, requalify, finalise and delete are admin only.
func RegisterRoutes(g *echo.Group, h *Handler, svc OpportunityService) {
	g.POST("/opportunities", h.Create)

	access := RequireOpportunityAccess(svc)
	admin := auth.RequireAdmin()

	g.GET("/opportunities/:oid", h.Get, access)
	g.PATCH("/opportunities/:oid", h.Update, access)
	g.DELETE("/opportunities/:oid", h.Delete, access, admin)
	g.POST("/opportunities/:oid/status", h.ChangeStatus, access, admin)
	g.POST("/opportunities/:oid/unqualify", h.Unqualify, access, admin)
	g.POST("/opportunities/:oid/requalify", h.Requalify, access, admin)
	g.POST("/opportunities/:oid/finalise", h.Finalise, access, admin)
}
