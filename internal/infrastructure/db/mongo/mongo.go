package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultTimeout = 10 * time.Second

// Config captures the minimal settings required to establish a MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Connect establishes a MongoDB client and returns both the client and the
// selected database. It also attempts a ping to surface connectivity
// problems early, but a failed ping is returned alongside a non-nil
// client/database rather than torn down: mongo.Connect itself does not
// block on the network (connections are established lazily per
// operation), so the caller can still start up in a degraded state and
// let per-request failures surface normally (spec §7) instead of treating
// an unreachable database as a fatal startup error. A nil client/database
// means mongo.Connect itself failed (bad URI/options), which is fatal.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	db := client.Database(cfg.Database)
	if err := client.Ping(connectCtx, nil); err != nil {
		return client, db, fmt.Errorf("mongo ping: %w", err)
	}
	return client, db, nil
}
