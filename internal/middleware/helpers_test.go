package middleware

import (
	"net/http"
	"net/http/httptest"

	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// newTestEcho returns an Echo whose error handler writes the AppError code,
// close enough to the app's handler for status assertions.
func newTestEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := apperror.SafeCode(err)
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		_ = c.JSON(code, map[string]string{"message": apperror.SafeMessage(err)})
	}
	return e
}

func ok(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}
