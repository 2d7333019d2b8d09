package main

import (
	"net/http"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/config"
	"github.com/anthonyacole/onvif-proxy/internal/events"
	"github.com/anthonyacole/onvif-proxy/internal/http/handler"
	mw "github.com/anthonyacole/onvif-proxy/internal/http/middleware"
	"github.com/anthonyacole/onvif-proxy/internal/registry"
	"github.com/anthonyacole/onvif-proxy/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies; SOAP requests are a few KB.
const maxBodyBytes = 10 << 20

type routerDeps struct {
	registry *registry.Registry
	events   *events.Manager
	gateway  *service.Gateway
	addrs    handler.LocalAddrSource
}

func buildRouter(cfg *config.Config, log *zap.Logger, d routerDeps) *gin.Engine {
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer()
	r := gin.New()

	// Apply Gin middlewares
	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID())

		if cfg.IsDev() { // admin UI served by a local dev server
			r.Use(cors.New(cors.Config{
				AllowOrigins:  []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:3000"},
				AllowMethods:  []string{"GET", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowHeaders:  []string{"X-Request-ID", "Content-Type"},
				ExposeHeaders: []string{"X-Request-ID", "X-Total-Count", "X-Proxy-Base-URL"},
				MaxAge:        12 * time.Hour,
			}))
		} else {
			_ = r.SetTrustedProxies([]string{"127.0.0.1"})
			r.Use(secure.New(secure.Config{
				ContentTypeNosniff: true,
				FrameDeny:          true,
				SSLProxyHeaders: map[string]string{
					"X-Forwarded-Proto": "https",
				},
			}))
		}

		r.Use(mw.AccessLog(log))
		r.Use(mw.MaxBodyBytes(maxBodyBytes))
	}

	r.GET("/health", handler.Health)

	// --- ONVIF endpoints ---
	{
		onvif := r.Group("", mw.LimitConcurrentRequests(cfg.Proxy.MaxInFlight, handler.RejectSOAP))
		handler.NewONVIFHandler(d.gateway, log).Register(onvif, d.registry)
	}

	// --- Admin API ---
	{
		api := r.Group("", mw.LimitConcurrentRequests(cfg.Proxy.MaxInFlight, mw.RejectJSON))
		handler.NewCamerasHandler(d.registry, d.events, log).Register(api)
		api.GET("/api/subscriptions", handler.GetSubscriptionList(d.events))
		api.GET("/api/system/net/localaddrs", handler.NewLocalAddrHandler(d.addrs, d.gateway.BaseURL(), log).GetLocalAddrList)
		api.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	}

	return r
}
