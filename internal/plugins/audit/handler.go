package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// OpportunitiesTable is the table_name under which opportunity mutations
// are recorded.
const OpportunitiesTable = "opportunities"

// Handler handles HTTP requests for the history feed. Handlers are thin:
// bind request, call service, render response. No business logic lives here.
type Handler struct {
	service HistoryService
}

// NewHandler creates a new audit handler.
func NewHandler(service HistoryService) *Handler {
	return &Handler{service: service}
}

// OpportunityHistory returns the history feed of one opportunity
// (GET /opportunities/:oid/history).
func (h *Handler) OpportunityHistory(c echo.Context) error {
	feed, err := h.service.GetHistory(c.Request().Context(), OpportunitiesTable, c.Param("oid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"history": feed})
}
