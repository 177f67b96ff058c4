package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/apperror"
)

// csrfTokenLength is the number of random bytes in a CSRF token (32 bytes = 64 hex chars).
const csrfTokenLength = 32

// csrfCookieName is the name of the cookie that stores the CSRF token.
const csrfCookieName = "loanease_csrf"

// bearerPrefix marks token-authenticated requests, matching auth.RequireAuth.
const bearerPrefix = "Bearer "

// csrfHeaderName is the header the portal front end echoes the token in.
const csrfHeaderName = "X-CSRF-Token"

// CSRF returns middleware implementing the double-submit cookie pattern for
// state-changing requests (POST, PUT, PATCH, DELETE) authenticated by the
// session cookie.
//
// Requests carrying a Bearer token skip validation: a browser never attaches
// one on its own. Any other Authorization scheme falls back to the session
// cookie during auth, so it is checked like a cookie request.
func CSRF() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if strings.HasPrefix(req.Header.Get(echo.HeaderAuthorization), bearerPrefix) {
				return next(c)
			}

			cookie, err := req.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				token, genErr := generateCSRFToken()
				if genErr != nil {
					return apperror.NewInternal(genErr)
				}
				c.SetCookie(&http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false, // read by the front end to echo in the header
					Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
					SameSite: http.SameSiteLaxMode,
				})
				cookie = nil
			}

			if isSafeMethod(req.Method) {
				return next(c)
			}

			// A freshly minted cookie cannot have been echoed yet.
			if cookie == nil {
				return apperror.NewForbidden("invalid or missing CSRF token")
			}

			submitted := req.Header.Get(csrfHeaderName)
			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(cookie.Value)) != 1 {
				return apperror.NewForbidden("invalid or missing CSRF token")
			}

			return next(c)
		}
	}
}

// isSafeMethod returns true for HTTP methods that should not change state.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

// generateCSRFToken generates a cryptographically random hex-encoded token.
func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
