package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"flowmarket-backend/container"
	"flowmarket-backend/metrics"
	"flowmarket-backend/middleware"
)

func main() {
	ctx := context.Background()

	// Initialize dependency container
	c, err := container.NewContainer(ctx)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer c.Close()

	mux := http.NewServeMux()

	// Apply middleware to all routes
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				middleware.SecurityHeaders(
					middleware.ValidateFilename(
						middleware.Timeout(30 * time.Second)(
							setupRoutes(mux, c),
						),
					),
				),
			),
		),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	log.Printf("Server starting on :%s", port)
	log.Printf("Marketplace API endpoints at: http://localhost:%s/api/", port)
	log.Printf("Metrics at: http://localhost:%s/metrics", port)

	log.Fatal(http.ListenAndServe(":"+port, handler))
}

func setupRoutes(mux *http.ServeMux, c *container.Container) http.Handler {
	// Health endpoint
	mux.HandleFunc("/api/health", c.HealthHandler.HandleHealth)

	// Task lifecycle
	mux.HandleFunc("/api/tasks", c.TaskHandler.HandleCollection)
	mux.HandleFunc("/api/tasks/", c.TaskHandler.HandleItem)

	// Subtask lifecycle
	mux.HandleFunc("/api/subtasks", c.SubtaskHandler.HandleCollection)
	mux.HandleFunc("/api/subtasks/", c.SubtaskHandler.HandleItem)

	// Disputes
	mux.HandleFunc("/api/disputes", c.DisputeHandler.HandleCollection)
	mux.HandleFunc("/api/disputes/", c.DisputeHandler.HandleItem)

	// Users
	mux.HandleFunc("/api/users", c.UserHandler.HandleCollection)
	mux.HandleFunc("/api/users/wallet/", c.UserHandler.HandleByWallet)
	mux.HandleFunc("/api/users/", c.UserHandler.HandleItem)

	// Escrow funding QR code
	mux.HandleFunc("/api/qrcode", c.QRCodeHandler.HandleGenerateQRCode)

	// Prometheus metrics
	mux.Handle("/metrics", metrics.Handler())

	return mux
}
