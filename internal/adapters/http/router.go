package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Scribe/internal/adapters/stream"
	"github.com/dkeye/Scribe/internal/app"
	"github.com/dkeye/Scribe/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *stream.Controller, reg *app.Registry, orch *app.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ScribeSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/ws/stream", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.Query("session_id")).Msg("ws stream endpoint hit")
		ctl.HandleStream(ctx, c)
	})

	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Snapshot())
	})

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"activeSessions": reg.Count(),
			"provider":       orch.Transcriber.Name(),
		})
	})

	return r
}
