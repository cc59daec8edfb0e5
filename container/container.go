package container

import (
	"context"
	"log"
	"os"

	"flowmarket-backend/blockchain"
	"flowmarket-backend/handlers"
	"flowmarket-backend/ipfs"
	mstore "flowmarket-backend/middleware/marketplace"
	"flowmarket-backend/services"
	marketstore "flowmarket-backend/storage/marketplace"
)

// Container holds all application dependencies
type Container struct {
	Store    mstore.Store
	Services *services.Services

	// Handlers
	HealthHandler  *handlers.HealthHandler
	TaskHandler    *handlers.TaskHandler
	SubtaskHandler *handlers.SubtaskHandler
	DisputeHandler *handlers.DisputeHandler
	UserHandler    *handlers.UserHandler
	QRCodeHandler  *handlers.QRCodeHandler
}

// NewContainer creates a new dependency container. The store backend is
// picked by DATABASE_URL: set means Postgres, empty means in-memory.
func NewContainer(ctx context.Context) (*Container, error) {
	var store mstore.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := marketstore.NewPGStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		store = pg
		log.Printf("using Postgres store")
	} else {
		store = marketstore.NewMemoryStore()
		log.Printf("using in-memory store")
	}

	var escrow services.EscrowGateway
	chain, err := blockchain.NewClientFromEnv(ctx)
	if err != nil {
		log.Printf("escrow client unavailable, payments disabled: %v", err)
	} else {
		escrow = chain
	}

	svc := services.New(store, escrow, ipfs.NewClientFromEnv())

	return &Container{
		Store:    store,
		Services: svc,

		HealthHandler:  handlers.NewHealthHandler(),
		TaskHandler:    handlers.NewTaskHandler(svc),
		SubtaskHandler: handlers.NewSubtaskHandler(svc),
		DisputeHandler: handlers.NewDisputeHandler(svc),
		UserHandler:    handlers.NewUserHandler(svc),
		QRCodeHandler:  handlers.NewQRCodeHandler(svc.QRCode),
	}, nil
}

// Close releases the container's resources.
func (c *Container) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}
