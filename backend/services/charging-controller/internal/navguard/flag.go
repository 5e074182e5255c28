package navguard

import (
	"context"
	"errors"
	"sync/atomic"

	"evcharge/backend/services/charging-controller/internal/store"
)

// ActiveFlag holds the process-wide "a session is active" state. The
// session-start collaborator sets it, the settlement flow clears it and the
// guard only reads it.
type ActiveFlag interface {
	Active(ctx context.Context) (bool, error)
	SetActive(ctx context.Context, active bool) error
}

// MemoryFlag keeps the flag in process memory.
type MemoryFlag struct {
	v atomic.Bool
}

func (f *MemoryFlag) Active(context.Context) (bool, error) { return f.v.Load(), nil }

func (f *MemoryFlag) SetActive(_ context.Context, active bool) error {
	f.v.Store(active)
	return nil
}

// KVFlag persists the flag in the shared store so it survives reloads.
type KVFlag struct {
	kv store.KV
}

// NewKVFlag returns a flag stored under store.ActiveFlagKey.
func NewKVFlag(kv store.KV) *KVFlag {
	return &KVFlag{kv: kv}
}

func (f *KVFlag) Active(ctx context.Context) (bool, error) {
	v, err := f.kv.Get(ctx, store.ActiveFlagKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return string(v) == "1", nil
}

func (f *KVFlag) SetActive(ctx context.Context, active bool) error {
	if !active {
		return f.kv.Delete(ctx, store.ActiveFlagKey)
	}
	return f.kv.Set(ctx, store.ActiveFlagKey, []byte("1"))
}
