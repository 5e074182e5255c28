package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("store: key not found")

// KV is the generic persistence capability shared by the controller, the
// settlement flow and the navigation guard. Writes are last-writer-wins.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetNX writes value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	// ListKeysWithPrefix returns matching keys in lexical order.
	ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

const (
	metaPrefix = "meta:"
	lastPrefix = "last:"
	stopPrefix = "stop:"

	// ActiveFlagKey holds the process-wide "a session is active" flag.
	ActiveFlagKey = "flag:session-active"
)

// MetaKey returns the key of the write-once init record.
func MetaKey(sessionID string) string { return metaPrefix + sessionID }

// LastKey returns the key of the latest authoritative snapshot.
func LastKey(sessionID string) string { return lastPrefix + sessionID }

// StopKey returns the key of the final settlement snapshot.
func StopKey(sessionID string) string { return stopPrefix + sessionID }
