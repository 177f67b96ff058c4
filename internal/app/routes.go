package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jainabhi1607/loanease/internal/config"
	"github.com/jainabhi1607/loanease/internal/middleware"
	"github.com/jainabhi1607/loanease/internal/plugins/audit"
	"github.com/jainabhi1607/loanease/internal/plugins/auth"
	"github.com/jainabhi1607/loanease/internal/plugins/opportunities"
)

// healthTimeout bounds each dependency ping in /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes sets up all application routes. This is the single place
// where plugin routes are aggregated.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// --- Public Routes ---

	e.GET("/healthz", a.healthz)
	e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))

	// --- Plugin wiring ---

	authSvc := auth.NewAuthService(
		auth.NewUserRepository(a.DB),
		auth.NewRedisSessionStore(a.Redis),
		a.Config.Auth.SessionTTL,
	)

	recorder := audit.NewRecorder(audit.NewAuditRepository(a.DB), a.Metrics)
	oppSvc := opportunities.NewOpportunityService(
		opportunities.NewOpportunityRepository(a.DB),
		recorder,
		a.Config.History.Timezone,
	)
	historySvc := audit.NewHistoryService(
		audit.NewAuditRepository(a.DB),
		authSvc,
		a.Config.History.Timezone,
	)

	// --- API Routes ---

	api := e.Group("/api/v1",
		middleware.RateLimit(a.rateStore(), a.Config.RateLimit.Requests, a.Config.RateLimit.Window),
		auth.RequireAuth(authSvc),
		middleware.CSRF(),
	)

	opportunities.RegisterRoutes(api, opportunities.NewHandler(oppSvc), oppSvc)
	audit.RegisterRoutes(api, audit.NewHandler(historySvc), opportunities.RequireOpportunityAccess(oppSvc))
}

// rateStore picks the limiter's counter backend. Redis is shared by every
// instance; the memory store only counts requests this process saw.
func (a *App) rateStore() middleware.RateStore {
	if a.Config.RateLimit.Store == config.RateStoreMemory {
		return middleware.NewMemoryRateStore()
	}
	return middleware.NewRedisRateStore(a.Redis)
}

// healthz pings MariaDB and Redis and answers 503 when either is down.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"database": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		slog.Warn("health check: database unreachable", slog.Any("error", err))
		status["database"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		slog.Warn("health check: redis unreachable", slog.Any("error", err))
		status["redis"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
