// Package api exposes the HTTP control surface: auth, session
// lifecycle endpoints, history queries, metrics and a websocket event
// stream.
package api

import (
	"context"
	"net/http"
	"time"

	"options-core/internal/events"
	"options-core/internal/monitor"
	"options-core/internal/session"
	"options-core/pkg/db"
	"options-core/pkg/venue"

	"github.com/gin-gonic/gin"
)

// Controller is the orchestration surface the API drives. It is
// satisfied by orchestrator.Manager and stubbed in tests.
type Controller interface {
	Start(ctx context.Context, account string, creds venue.Credentials, pushToken string, update *session.Update) error
	Stop(account string) error
	Update(account string, u session.Update) error
	Status(ctx context.Context, account string) session.Status
	Logs(account string) []string
	Signals(ctx context.Context, account string) ([]byte, error)
	List() []session.Status
	Running(account string) bool
}

// Server holds API dependencies and the configured router.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Control   Controller
	Metrics   *monitor.SystemMetrics
	JWTSecret string
}

// NewServer builds the router with the full middleware chain and all
// routes registered.
func NewServer(bus *events.Bus, database *db.Database, control Controller, metrics *monitor.SystemMetrics, jwtSecret string) *Server {
	s := &Server{
		Bus:       bus,
		DB:        database,
		Control:   control,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogger(metrics))
	router.Use(RateLimitMiddleware())
	router.Use(TimeoutMiddleware(30 * time.Second))
	router.Use(CORSMiddleware())

	router.GET("/health", s.health)
	router.GET("/ws", s.handleWebSocket)

	auth := router.Group("/api/auth")
	{
		auth.POST("/register", s.registerUser)
		auth.POST("/login", s.loginUser)
	}

	apiGroup := router.Group("/api")
	apiGroup.Use(AuthMiddleware(jwtSecret))
	{
		apiGroup.GET("/sessions", s.listSessions)
		apiGroup.GET("/metrics", s.systemMetrics)
		apiGroup.PUT("/profile/push-token", s.updatePushToken)

		sessions := apiGroup.Group("/sessions/:account")
		sessions.Use(AccountParamMiddleware())
		{
			sessions.POST("/start", s.startSession)
			sessions.POST("/stop", s.stopSession)
			sessions.PUT("/config", s.updateSessionConfig)
			sessions.GET("/status", s.sessionStatus)
			sessions.GET("/logs", s.sessionLogs)
			sessions.GET("/signals", s.sessionSignals)
		}
	}

	s.Router = router
	return s
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	return s.Router.Run(addr)
}
