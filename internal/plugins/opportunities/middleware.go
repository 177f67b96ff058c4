package opportunities

import (
	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/apperror"
	"github.com/jainabhi1607/loanease/internal/plugins/auth"
	"github.com/jainabhi1607/loanease/internal/plugins/audit"
)

// contextKeyOpportunity is the Echo context key for the resolved record.
const contextKeyOpportunity = "opportunity"

// RequireOpportunityAccess returns middleware that resolves the opportunity
// from the :oid URL parameter and stores it in the Echo context. Records the
// caller may not see answer 404, the same as missing ones.
//
// Must be applied AFTER auth.RequireAuth.
func RequireOpportunityAccess(service OpportunityService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := actorFrom(c)
			if err != nil {
				return err
			}

			o, err := service.Get(c.Request().Context(), actor, c.Param("oid"))
			if err != nil {
				return err
			}

			c.Set(contextKeyOpportunity, o)
			return next(c)
		}
	}
}

// GetOpportunity retrieves the resolved opportunity from the Echo context.
// Returns nil if RequireOpportunityAccess was not applied.
func GetOpportunity(c echo.Context) *Opportunity {
	o, ok := c.Get(contextKeyOpportunity).(*Opportunity)
	if !ok {
		return nil
	}
	return o
}

// actorFrom builds the service caller from the session and request.
func actorFrom(c echo.Context) (Actor, error) {
	session := auth.GetSession(c)
	if session == nil {
		return Actor{}, apperror.NewUnauthorized("authentication required")
	}
	return Actor{
		UserID:         session.UserID,
		OrganisationID: session.OrganisationID,
		Admin:          session.IsAdmin(),
		Meta: audit.RequestMeta{
			IPAddress: c.RealIP(),
			UserAgent: c.Request().UserAgent(),
		},
	}, nil
}
