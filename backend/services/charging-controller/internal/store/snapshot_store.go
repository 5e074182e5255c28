package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"evcharge/backend/services/charging-controller/internal/models"
)

// SnapshotStore maps a session id to its meta, last and stop records.
type SnapshotStore struct {
	kv KV
}

// NewSnapshotStore wraps a KV backend.
func NewSnapshotStore(kv KV) *SnapshotStore {
	return &SnapshotStore{kv: kv}
}

// SaveMeta writes the init record. It never overwrites an existing one.
func (s *SnapshotStore) SaveMeta(ctx context.Context, meta models.SessionMeta) (bool, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	return s.kv.SetNX(ctx, MetaKey(meta.SessionID), data)
}

// LoadMeta returns the init record or ErrNotFound.
func (s *SnapshotStore) LoadMeta(ctx context.Context, sessionID string) (*models.SessionMeta, error) {
	var meta models.SessionMeta
	if err := s.load(ctx, MetaKey(sessionID), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListMeta returns every persisted init record in key order.
func (s *SnapshotStore) ListMeta(ctx context.Context) ([]models.SessionMeta, error) {
	keys, err := s.kv.ListKeysWithPrefix(ctx, metaPrefix)
	if err != nil {
		return nil, err
	}
	metas := make([]models.SessionMeta, 0, len(keys))
	for _, key := range keys {
		var meta models.SessionMeta
		if err := s.load(ctx, key, &meta); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if meta.SessionID == "" {
			meta.SessionID = strings.TrimPrefix(key, metaPrefix)
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// SaveLast overwrites the latest authoritative snapshot.
func (s *SnapshotStore) SaveLast(ctx context.Context, snap models.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, LastKey(snap.ID), data)
}

// LoadLast returns the latest snapshot or ErrNotFound.
func (s *SnapshotStore) LoadLast(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	if err := s.load(ctx, LastKey(sessionID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveStop writes the final settlement record once. The boolean is false when
// a record already existed; the stored record is left untouched.
func (s *SnapshotStore) SaveStop(ctx context.Context, rec models.StopRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.kv.SetNX(ctx, StopKey(rec.SessionID), data)
}

// UpdateStop replaces an existing stop record, used to record the settlement
// outcome after the write-once insert.
func (s *SnapshotStore) UpdateStop(ctx context.Context, rec models.StopRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, StopKey(rec.SessionID), data)
}

// LoadStop returns the final record or ErrNotFound.
func (s *SnapshotStore) LoadStop(ctx context.Context, sessionID string) (*models.StopRecord, error) {
	var rec models.StopRecord
	if err := s.load(ctx, StopKey(sessionID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SnapshotStore) load(ctx context.Context, key string, out interface{}) error {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
