package main

import (
	"context"
	"log"
	"os"

	"flowmarket-backend/blockchain"
	"flowmarket-backend/ipfs"
	"flowmarket-backend/mcp"
	"flowmarket-backend/services"
	mstore "flowmarket-backend/middleware/marketplace"
	marketstore "flowmarket-backend/storage/marketplace"

	"github.com/mark3labs/mcp-go/server"
)

type config struct {
	StoreDriver string
	PGDSN       string
}

func loadConfig() config {
	storeDriver := os.Getenv("MCP_STORE_DRIVER")
	pgDsn := os.Getenv("DATABASE_URL")
	if storeDriver == "" {
		if pgDsn != "" {
			storeDriver = "postgres"
		} else {
			storeDriver = "memory"
		}
	}

	return config{
		StoreDriver: storeDriver,
		PGDSN:       pgDsn,
	}
}

func main() {
	cfg := loadConfig()

	ctx := context.Background()
	var store mstore.Store
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PGDSN == "" {
			log.Fatal("DATABASE_URL required when MCP_STORE_DRIVER=postgres")
		}
		pg, err := marketstore.NewPGStore(ctx, cfg.PGDSN)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
		store = pg
	default:
		store = marketstore.NewMemoryStore()
	}
	defer store.Close()

	var escrow services.EscrowGateway
	chain, err := blockchain.NewClientFromEnv(ctx)
	if err != nil {
		log.Printf("escrow client unavailable, payments disabled: %v", err)
	} else {
		escrow = chain
	}

	svc := services.New(store, escrow, ipfs.NewClientFromEnv())

	// Create new MCP server using mcp-go
	mcpServer := mcp.NewMCPServer(svc)

	log.Printf("FlowMarket MCP server starting (driver=%s)", cfg.StoreDriver)
	log.Printf("Server: FlowMarket MCP Server v1.0.0")

	// Start the MCP server using stdio transport
	if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
