package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcharge/backend/services/charging-controller/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func sampleSnapshot() models.SessionSnapshot {
	end := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)
	return models.SessionSnapshot{
		ID:            "s-1",
		StationID:     "st-9",
		PillarID:      "p-2",
		ConnectorID:   "c-4",
		VehicleID:     "v-7",
		Status:        models.SessionStatusCompleted,
		EnergyKWh:     12.35,
		Amount:        4.94,
		RatePerKWh:    0.4,
		StartTime:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EndTime:       &end,
		Currency:      "EUR",
		PaymentMethod: models.PaymentMethodWallet,
		SOC:           floatPtr(0.81),
	}
}

func setupMiniRedis(t *testing.T) KV {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisKV(client, "", time.Hour)
}

func backends(t *testing.T) map[string]KV {
	return map[string]KV{
		"memory": NewMemoryKV(),
		"redis":  setupMiniRedis(t),
	}
}

func TestSnapshotStoreLastRoundTrip(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewSnapshotStore(kv)
			want := sampleSnapshot()

			require.NoError(t, s.SaveLast(ctx, want))
			got, err := s.LoadLast(ctx, want.ID)
			require.NoError(t, err)
			assert.Equal(t, want, *got)
		})
	}
}

func TestSnapshotStoreMissingRecords(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewSnapshotStore(kv)

			_, err := s.LoadLast(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.LoadStop(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.LoadMeta(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSnapshotStoreStopIsWriteOnce(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewSnapshotStore(kv)

			first := models.StopRecord{SessionID: "s-1", EnergyKWh: 10, Trigger: models.StopTriggerBatteryFull}
			second := models.StopRecord{SessionID: "s-1", EnergyKWh: 99, Trigger: models.StopTriggerDeadline}

			wrote, err := s.SaveStop(ctx, first)
			require.NoError(t, err)
			assert.True(t, wrote)

			wrote, err = s.SaveStop(ctx, second)
			require.NoError(t, err)
			assert.False(t, wrote)

			got, err := s.LoadStop(ctx, "s-1")
			require.NoError(t, err)
			assert.Equal(t, 10.0, got.EnergyKWh)
			assert.Equal(t, models.StopTriggerBatteryFull, got.Trigger)
		})
	}
}

func TestSnapshotStoreListMeta(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewSnapshotStore(kv)

			for _, id := range []string{"b", "a"} {
				wrote, err := s.SaveMeta(ctx, models.SessionMeta{SessionID: id, ReservationID: "r-" + id, VehicleID: "v-" + id})
				require.NoError(t, err)
				assert.True(t, wrote)
			}
			require.NoError(t, s.SaveLast(ctx, models.SessionSnapshot{ID: "a"}))

			wrote, err := s.SaveMeta(ctx, models.SessionMeta{SessionID: "a", ReservationID: "other"})
			require.NoError(t, err)
			assert.False(t, wrote, "meta is write-once")

			metas, err := s.ListMeta(ctx)
			require.NoError(t, err)
			require.Len(t, metas, 2)
			assert.Equal(t, "a", metas[0].SessionID)
			assert.Equal(t, "r-a", metas[0].ReservationID)
			assert.Equal(t, "b", metas[1].SessionID)
		})
	}
}

func TestListKeysWithPrefixFiltersAndDeletes(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, kv.Set(ctx, "meta:x", []byte("1")))
			require.NoError(t, kv.Set(ctx, "metadata", []byte("2")))
			require.NoError(t, kv.Set(ctx, "last:x", []byte("3")))

			keys, err := kv.ListKeysWithPrefix(ctx, "meta:")
			require.NoError(t, err)
			assert.Equal(t, []string{"meta:x"}, keys)

			require.NoError(t, kv.Delete(ctx, "meta:x"))
			keys, err = kv.ListKeysWithPrefix(ctx, "meta:")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestOpenBackends(t *testing.T) {
	kv, err := Open("", Clients{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryKV{}, kv)

	_, err = Open(BackendRedis, Clients{})
	assert.Error(t, err)
	_, err = Open(BackendPostgres, Clients{})
	assert.Error(t, err)
	_, err = Open("bolt", Clients{})
	assert.Error(t, err)
}
