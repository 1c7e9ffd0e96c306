package routes

import (
	"permit-management-api/internal/dashboard"
	"permit-management-api/internal/events"
	"permit-management-api/internal/handlers"
	"permit-management-api/internal/middleware"
	"permit-management-api/internal/models"
	"permit-management-api/internal/realtime"

	"github.com/gin-gonic/gin"
)

// Deps carries the process-wide components the handlers need. All of them are
// constructed once in main and injected here.
type Deps struct {
	Bus        *events.Emitter[models.RequestEvent]
	Hub        *realtime.Hub
	Dashboards *dashboard.Cache
}

func SetupRoutes(deps Deps) *gin.Engine {
	// Create a new GIN Router
	ginRouter := gin.Default()

	// CORS middleware (for frontend integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204) // This depends on the implementation of the frontend
			return
		}

		c.Next()
	})

	// Health check endpoint
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Permit Management API is running in Health Check Endpoint",
		})
	})

	requestHandler := handlers.NewRequestHandler(deps.Bus, deps.Dashboards)
	dashboardHandler := handlers.NewDashboardHandler(deps.Dashboards)
	wsHandler := handlers.NewWSHandler(deps.Hub)

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/register", handlers.Register)
		api.POST("/login", handlers.Login)
	}

	// Protected routes (authentication required)
	protectedRoutes := api.Group("")
	protectedRoutes.Use(middleware.JWTAuthMiddleware())
	{
		// Access request endpoints
		protectedRoutes.GET("/requests", requestHandler.List)
		protectedRoutes.GET("/requests/:id", requestHandler.GetByID)
		protectedRoutes.POST("/requests", requestHandler.Create)
		protectedRoutes.PUT("/requests/:id", requestHandler.Update)
		protectedRoutes.PATCH("/requests/:id/decision",
			middleware.RequireRole(models.RoleApprover, models.RoleAdmin),
			requestHandler.Decide)
		protectedRoutes.DELETE("/requests/:id", requestHandler.Delete)

		// Dashboard endpoints
		protectedRoutes.GET("/dashboard/:userid", dashboardHandler.Get)
		protectedRoutes.POST("/dashboard/:userid/refresh", dashboardHandler.Refresh)
		protectedRoutes.DELETE("/dashboard-cache",
			middleware.RequireRole(models.RoleAdmin),
			dashboardHandler.ClearCache)

		// Users endpoint
		protectedRoutes.GET("/users", handlers.GetAllUsers)

		// Realtime endpoint
		protectedRoutes.GET("/ws", wsHandler.Serve)
	}

	return ginRouter
}
