package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Clients carries the connections a backend may need.
type Clients struct {
	Redis     *redis.Client
	Postgres  *sql.DB
	Namespace string
	TTL       time.Duration
}

// Open builds a KV for the configured backend.
func Open(backend string, clients Clients) (KV, error) {
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		return NewMemoryKV(), nil
	case BackendRedis:
		if clients.Redis == nil {
			return nil, fmt.Errorf("store: redis backend requires a client")
		}
		return NewRedisKV(clients.Redis, clients.Namespace, clients.TTL), nil
	case BackendPostgres:
		if clients.Postgres == nil {
			return nil, fmt.Errorf("store: postgres backend requires a db")
		}
		return NewPostgresKV(clients.Postgres), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
