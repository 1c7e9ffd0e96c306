package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"permit-management-api/internal/cache"
	"permit-management-api/internal/database"
	"permit-management-api/internal/dashboard"
	"permit-management-api/internal/events"
	"permit-management-api/internal/models"
	"permit-management-api/internal/realtime"
	"permit-management-api/internal/routes"
)

func main() {
	// Init database
	database.InitDB()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Process-wide components: dashboard cache, request event bus, ws hub
	dashboards := dashboard.NewCache(cache.Options{})
	bus := events.New[models.RequestEvent](events.Options{})
	hub := realtime.NewHub()
	if err := realtime.Bind(bus, hub); err != nil {
		log.Fatal("Failed to bind event bus to hub: ", err)
	}

	// Periodic cache sweep, cancelled on shutdown
	go dashboards.Run(ctx)

	// Setup the routes (public and protected routes)
	ginRoutes := routes.SetupRoutes(routes.Deps{
		Bus:        bus,
		Hub:        hub,
		Dashboards: dashboards,
	})

	// Start server
	port := ":8008" // This is customizable based on the environment
	log.Printf("Server starting on port %s", port)
	log.Println("API endpoints:")
	log.Println("  POST   /api/register")
	log.Println("  POST   /api/login")
	log.Println("  GET    /api/requests")
	log.Println("  GET    /api/requests/:id")
	log.Println("  POST   /api/requests")
	log.Println("  PUT    /api/requests/:id")
	log.Println("  PATCH  /api/requests/:id/decision")
	log.Println("  DELETE /api/requests/:id")
	log.Println("  GET    /api/dashboard/:userid")
	log.Println("  POST   /api/dashboard/:userid/refresh")
	log.Println("  GET    /api/ws")
	log.Println("  GET    /health")

	srv := &http.Server{
		Addr:    port,
		Handler: ginRoutes,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Server shutdown error: ", err)
	}
}
