package api

import (
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/rendez/signal-server/internal/api/handler"
	"github.com/rendez/signal-server/internal/api/middleware"
	_ "github.com/rendez/signal-server/internal/docs"
	"github.com/rendez/signal-server/internal/core/ports"
	"github.com/rendez/signal-server/internal/infrastructure/ws"
)

// RouterConfig collects everything NewRouter needs to wire the HTTP
// surface (spec §6) on top of the already-constructed core services.
type RouterConfig struct {
	Identity       ports.IdentityService
	Hub            *ws.Hub
	JWTSecret      string
	AllowedOrigins []string
	TURN           handler.TURNConfig
}

// NewRouter builds and returns the Echo instance with every route from
// spec §6's HTTP surface registered, plus /ws, /metrics, and /docs.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: corsOrigins(cfg.AllowedOrigins),
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	p := prometheus.NewPrometheus("rendez", nil)
	p.Use(e)

	// --- Dependencies ---
	authHandler := handler.NewAuthHandler(cfg.Identity)
	authMiddleware := middleware.Auth(cfg.JWTSecret)
	healthHandler := handler.NewHealthHandler(cfg.Hub)
	iceHandler := handler.NewIceHandler(cfg.TURN)

	// --- Auth routes ---
	e.POST("/auth/register", authHandler.Register)
	e.POST("/auth/login", authHandler.Login)
	e.GET("/auth/me", authHandler.Me, authMiddleware)

	// --- Health / discovery ---
	e.GET("/health", healthHandler.Liveness)
	e.GET("/ice-servers", iceHandler.Servers)

	// --- Control channel ---
	e.GET("/ws", cfg.Hub.Handler())

	// --- API docs ---
	e.GET("/docs/*", echoSwagger.WrapHandler)

	return e
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}
