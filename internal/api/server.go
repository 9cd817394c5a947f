package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Server struct {
	router *gin.Engine
	port   int
	server *http.Server
}

// NewServer routes the read API under /api and serves metricsHandler at
// /metrics when it is non-nil.
func NewServer(port int, handler *Handler, metricsHandler http.Handler) *Server {
	router := gin.Default()

	// Setup CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Setup routes
	api := router.Group("/api")
	{
		// Health check
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})

		sessions := api.Group("/sessions")
		{
			sessions.GET("", handler.ListSessions)
			sessions.GET("/latest", handler.LatestSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.GET("/:id/listings", handler.SessionListings)
			sessions.GET("/:id/statistics", handler.SessionStatistics)
		}

		items := api.Group("/items")
		{
			items.GET("/:hash/listings", handler.ItemListings)
			items.GET("/:hash/analyses", handler.ItemAnalyses)
		}

		api.GET("/prices/:type/:hash", handler.GetMarketPrice)
		api.POST("/crawls", handler.StartCrawl)
	}

	return &Server{
		router: router,
		port:   port,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
