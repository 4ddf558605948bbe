package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/app"
	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/handlers"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/realtime"
	"github.com/parleyhq/parley/internal/services"
)

// Services bundles the long-lived collaborators the router exposes.
type Services struct {
	Hub      *realtime.Hub
	Chats    *services.ChatService
	Messages *services.MessageService
	Typing   *services.TypingTracker
	Presence *services.PresenceService
	Calls    *services.CallService
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, svcs Services, rateStore middleware.RateStore) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svcs.Hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.RateLimit(rateStore, cfg.Realtime.RateLimit.MaxRequests, cfg.Realtime.RateLimit.Window))

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// The websocket entry point authenticates inside the handler because
	// browser clients deliver the token via query string, not header.
	rtHandler := handlers.NewRealtimeHandler(svcs.Hub, jwt, svcs.Messages, svcs.Typing, svcs.Calls, svcs.Presence)
	r.GET("/ws", rtHandler.Stream)

	chatHandler := handlers.NewChatHandler(svcs.Chats, svcs.Messages, svcs.Typing)
	callHandler := handlers.NewCallHandler(svcs.Calls, svcs.Chats)
	presenceHandler := handlers.NewPresenceHandler(svcs.Presence)

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	chats := api.Group("/chats")
	{
		chats.POST("/direct", chatHandler.CreateDirect)
		chats.GET("/:chatID", chatHandler.Get)
		chats.GET("/:chatID/messages", chatHandler.History)
		chats.GET("/:chatID/typing", chatHandler.Typing)
		chats.GET("/:chatID/calls", callHandler.ListForChat)
	}

	api.GET("/calls/:callID", callHandler.Get)

	presence := api.Group("/presence")
	{
		presence.GET("", presenceHandler.ListOnline)
		presence.GET("/:userID", presenceHandler.Get)
		presence.POST("/heartbeat", presenceHandler.Heartbeat)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
