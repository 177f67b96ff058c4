package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// Recovery turns a panicking handler into a 500 through the JSON error
// handler. The route pattern is logged rather than the path so opportunity
// IDs from the URL stay out of the panic log; the stack stays server side.
func Recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				cause := panicError(r)
				slog.Error("panic recovered",
					slog.Any("error", cause),
					slog.String("method", c.Request().Method),
					slog.String("route", c.Path()),
					slog.String("stack", string(debug.Stack())),
				)
				err = apperror.NewInternal(cause)
			}()
			return next(c)
		}
	}
}

// panicError keeps error values wrappable for errors.Is in the error handler.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return errors.New(fmt.Sprint("panic: ", r))
}
