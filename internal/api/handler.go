package api

import (
	"net/http"
	"time"

	"futures-desk/internal/events"
	"futures-desk/internal/mode"
	"futures-desk/internal/monitor"
	"futures-desk/internal/sync"
	"futures-desk/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires the dashboard HTTP surface around the sync controller.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Sync      *sync.Controller
	Arbiter   *mode.Arbiter
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Venue   string
	Symbols []string
	Version string
}

func NewServer(bus *events.Bus, database *db.Database, controller *sync.Controller, arbiter *mode.Arbiter, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())               // Panic recovery (first)
	r.Use(RequestIDMiddleware())        // Request ID tracking
	r.Use(RequestLogger(metrics))       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())        // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())             // CORS (last before routes)

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Sync:      controller,
		Arbiter:   arbiter,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/snapshot", s.getSnapshot)
			protected.GET("/prices", s.getPrices)
			protected.GET("/balance", s.getBalance)
			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOrders)
			protected.GET("/logs", s.getLogs)
			protected.GET("/system/status", s.getSystemStatus)
			protected.GET("/metrics", s.getMetrics)

			protected.POST("/orders", s.placeOrder)
			protected.DELETE("/orders/:orderId", s.cancelOrder)
			protected.POST("/mode", s.setMode)
			protected.POST("/refresh/:kind", s.refresh)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
