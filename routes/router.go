package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/jellyfish/config"
	"github.com/cppla/jellyfish/controllers"
	"github.com/cppla/jellyfish/middleware"
	"github.com/cppla/jellyfish/store"
	"github.com/cppla/jellyfish/utils"
)

// Handlers are the wired controllers and middleware the router mounts.
type Handlers struct {
	Auth          *controllers.AuthController
	Posts         *controllers.PostController
	Authenticator *middleware.Authenticator
	Users         store.UserRepository
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, h Handlers) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(accessLogging(cfg)...)

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		// credentials cannot be combined with a wildcard origin
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authn := h.Authenticator
	api := r.Group("/api/v1")
	api.Use(middleware.RequestLoaders(h.Users))

	authGroup := api.Group("/auth")
	limited := authGroup.Group("")
	limited.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	limited.POST("/register", h.Auth.Register)
	limited.POST("/login", h.Auth.Login)
	limited.POST("/forgot-password", h.Auth.ForgotPassword)
	limited.POST("/change-password", h.Auth.ChangePassword)
	authGroup.POST("/logout", authn.AuthRequired(), h.Auth.Logout)
	authGroup.GET("/me", authn.OptionalAuth(), h.Auth.Me)

	postsGroup := api.Group("/posts")
	postsGroup.GET("", authn.OptionalAuth(), h.Posts.ListPosts)
	postsGroup.GET("/:id", authn.OptionalAuth(), h.Posts.GetPost)

	protected := postsGroup.Group("")
	protected.Use(authn.AuthRequired())
	protected.POST("", h.Posts.CreatePost)
	protected.PATCH("/:id", h.Posts.UpdatePost)
	protected.DELETE("/:id", h.Posts.DeletePost)
	protected.POST("/:id/vote", h.Posts.Vote)
	protected.DELETE("/:id/vote", h.Posts.RetractVote)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		utils.Error(ctx, http.StatusNotFound, 40400, "not found")
	})

	return r
}

// accessLogging logs requests into the rolling gin log, or into the app logger when no path is set.
func accessLogging(cfg config.AppConfig) []gin.HandlerFunc {
	var gl *zap.Logger
	if cfg.GinPath != "" {
		l, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err == nil {
			gl = l
		}
	}
	if gl == nil {
		gl = utils.Logger
	}
	return []gin.HandlerFunc{utils.Ginzap(gl, time.RFC3339, true), utils.RecoveryWithZap(gl, false)}
}
