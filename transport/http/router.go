package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/oceanix/walletgate/service"
)

// SetupRouter wires the HTTP surface. The challenge, verify and refresh
// endpoints are unauthenticated; everything else sits behind the bearer
// middleware.
func SetupRouter(svc *service.AuthService, log zerolog.Logger) *gin.Engine {
	h := NewAuthHandlers(svc, log)

	r := gin.New()
	r.Use(RequestLogger(log), gin.Recovery())

	auth := r.Group("/auth")
	{
		auth.POST("/challenge", h.Challenge)
		auth.POST("/verify", h.Verify)
		auth.POST("/refresh", h.Refresh)

		authed := auth.Group("", AuthMiddleware(svc))
		authed.POST("/logout", h.Logout)
		authed.GET("/sessions", h.Sessions)
	}

	r.GET("/.well-known/jwks.json", h.JWKS)

	api := r.Group("/api", AuthMiddleware(svc))
	{
		api.GET("/me", h.Me)
		api.GET("/authorize", RiskGuard(svc), h.Authorize)
	}

	return r
}
