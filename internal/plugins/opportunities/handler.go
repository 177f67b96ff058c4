package opportunities

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// Handler handles HTTP requests for opportunity operations. Handlers are
// thin: bind request, call service, render response. No business logic
// lives here.
type Handler struct {
	service OpportunityService
}

// NewHandler creates a new opportunity handler.
func NewHandler(service OpportunityService) *Handler {
	return &Handler{service: service}
}

// statusRequest is the body of POST /opportunities/:oid/status.
type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// unqualifyRequest is the body of POST /opportunities/:oid/unqualify.
type unqualifyRequest struct {
	Reason string `json:"reason"`
}

// Create creates an opportunity (POST /opportunities).
func (h *Handler) Create(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	fields, err := bindFields(c)
	if err != nil {
		return err
	}

	o, err := h.service.Create(c.Request().Context(), actor, fields)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, o.View())
}

// Get returns one opportunity (GET /opportunities/:oid).
func (h *Handler) Get(c echo.Context) error {
	o := GetOpportunity(c)
	if o == nil {
		return apperror.NewMissingContext()
	}
	return c.JSON(http.StatusOK, o.View())
}

// Update applies a partial update (PATCH /opportunities/:oid).
func (h *Handler) Update(c echo.Context) error {
	return h.mutate(c, func(actor Actor, o *Opportunity) (*Opportunity, error) {
		fields, err := bindFields(c)
		if err != nil {
			return nil, err
		}
		return h.service.Update(c.Request().Context(), actor, o, fields)
	})
}

// ChangeStatus sets the status (POST /opportunities/:oid/status).
func (h *Handler) ChangeStatus(c echo.Context) error {
	return h.mutate(c, func(actor Actor, o *Opportunity) (*Opportunity, error) {
		var req statusRequest
		if err := c.Bind(&req); err != nil {
			return nil, apperror.NewBadRequest("invalid request")
		}
		return h.service.ChangeStatus(c.Request().Context(), actor, o, req.Status, req.Reason)
	})
}

// Unqualify marks the opportunity unqualified (POST /opportunities/:oid/unqualify).
func (h *Handler) Unqualify(c echo.Context) error {
	return h.mutate(c, func(actor Actor, o *Opportunity) (*Opportunity, error) {
		var req unqualifyRequest
		if err := c.Bind(&req); err != nil {
			return nil, apperror.NewBadRequest("invalid request")
		}
		return h.service.MarkUnqualified(c.Request().Context(), actor, o, req.Reason)
	})
}

// Requalify clears the unqualified flag (POST /opportunities/:oid/requalify).
func (h *Handler) Requalify(c echo.Context) error {
	return h.mutate(c, func(actor Actor, o *Opportunity) (*Opportunity, error) {
		return h.service.ClearUnqualified(c.Request().Context(), actor, o)
	})
}

// Finalise records deal finalisation info (POST /opportunities/:oid/finalise).
func (h *Handler) Finalise(c echo.Context) error {
	return h.mutate(c, func(actor Actor, o *Opportunity) (*Opportunity, error) {
		fields, err := bindFields(c)
		if err != nil {
			return nil, err
		}
		return h.service.Finalise(c.Request().Context(), actor, o, fields)
	})
}

// Delete soft-deletes the opportunity (DELETE /opportunities/:oid).
func (h *Handler) Delete(c echo.Context) error {
	o := GetOpportunity(c)
	if o == nil {
		return apperror.NewMissingContext()
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), actor, o); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// mutate runs fn against the resolved opportunity and renders the result.
func (h *Handler) mutate(c echo.Context, fn func(Actor, *Opportunity) (*Opportunity, error)) error {
	o := GetOpportunity(c)
	if o == nil {
		return apperror.NewMissingContext()
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	updated, err := fn(actor, o)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated.View())
}

// bindFields decodes a JSON object body into raw values by key. An empty
// body is an empty object.
func bindFields(c echo.Context) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	err := json.NewDecoder(c.Request().Body).Decode(&fields)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, apperror.NewBadRequest("request body must be a JSON object")
	}
	return fields, nil
}
