// internal/common/database/qdrant.go
package database

import (
	"context"
	"fmt"
	"time"

	"nlsql-workers/internal/common/config"

	pb "github.com/qdrant/go-client/qdrant"
)

// NewQdrant creates the gRPC client for the Qdrant vector store.
func NewQdrant(ctx context.Context, cfg config.QdrantConfig) (*pb.Client, error) {
	client, err := pb.NewClient(&pb.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(checkCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	return client, nil
}
