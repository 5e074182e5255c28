package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcharge/backend/services/charging-controller/internal/models"
)

func TestStopGuardSingleWinner(t *testing.T) {
	var (
		g    StopGuard
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, g.IsSet())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestFailedTicksAccumulateLocally(t *testing.T) {
	h := newHarness(t)
	h.backend.updateFn = func(float64) (*models.SessionSnapshot, error) { return nil, errBackendDown }
	c := h.controller(t, Options{})

	for i := 0; i < 7; i++ {
		c.engine.Tick(context.Background())
	}

	assert.InDelta(t, 7*0.45, c.engine.Energy(), 1e-9)
	assert.Nil(t, c.engine.Last())
	assert.False(t, c.guard.IsSet())
}

func TestServerSnapshotReplacesLocalCounter(t *testing.T) {
	h := newHarness(t)
	h.backend.updateFn = func(float64) (*models.SessionSnapshot, error) {
		return &models.SessionSnapshot{ID: "sess-1", Status: models.SessionStatusActive, EnergyKWh: 0.2, RatePerKWh: 12}, nil
	}
	c := h.controller(t, Options{})
	c.engine.Seed(models.SessionSnapshot{ID: "sess-1", EnergyKWh: 1})

	c.engine.Tick(context.Background())

	assert.InDelta(t, 0.2, c.engine.Energy(), 1e-9)
	last, err := h.snapshots.LoadLast(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, last.EnergyKWh, 1e-9)
	assert.Equal(t, 12.0, last.RatePerKWh)
}

func TestBatteryFullStopsOnFiftySixthTick(t *testing.T) {
	h := newHarness(t)
	c := h.started(t, Options{Vehicle: fullBatteryVehicle()})
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		c.engine.Tick(ctx)
	}
	require.False(t, c.guard.IsSet())
	soc, ok := c.estimate(*c.engine.Last())
	require.True(t, ok)
	assert.InDelta(t, 0.995, soc, 1e-6)

	c.engine.Tick(ctx)
	require.True(t, c.guard.IsSet())
	assert.Equal(t, 1, h.backend.stops())
	assert.False(t, c.engine.Running())

	c.engine.Tick(ctx)
	assert.Equal(t, 56, h.backend.updateCount())

	v := c.View()
	assert.Equal(t, PhaseCompleted, v.Phase)
	require.NotNil(t, v.Stop)
	assert.Equal(t, models.StopTriggerBatteryFull, v.Stop.Trigger)
	assert.InDelta(t, 25.2, v.Stop.EnergyKWh, 1e-6)
	assert.InDelta(t, 252, v.Stop.Amount, 1e-6)
}

func TestUnknownSOCNeverStops(t *testing.T) {
	h := newHarness(t)
	c := h.started(t, Options{Vehicle: &models.VehicleBrief{ID: "veh-1", BatteryKWh: ptr(50)}})

	for i := 0; i < 200; i++ {
		c.engine.Tick(context.Background())
	}
	assert.False(t, c.guard.IsSet())
	assert.Nil(t, c.View().SOC)
	assert.Zero(t, h.backend.stops())
}

func TestLateResponseDroppedAfterStop(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.backend.updateFn = func(energy float64) (*models.SessionSnapshot, error) {
		<-release
		return &models.SessionSnapshot{ID: "sess-1", EnergyKWh: 99}, nil
	}
	c := h.controller(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.engine.Tick(context.Background())
	}()
	require.Eventually(t, func() bool { return h.backend.updateCount() == 1 }, waitFor, tick)

	require.True(t, c.guard.TryAcquire())
	close(release)
	<-done

	assert.InDelta(t, 0.45, c.engine.Energy(), 1e-9)
	assert.Nil(t, c.engine.Last())
}

func TestResumeReseedsFromLastSnapshot(t *testing.T) {
	h := newHarness(t)
	h.backend.updateFn = func(float64) (*models.SessionSnapshot, error) { return nil, errBackendDown }
	c := h.started(t, Options{})
	c.engine.Seed(models.SessionSnapshot{ID: "sess-1", EnergyKWh: 2})
	c.engine.Tick(context.Background())
	require.InDelta(t, 2.45, c.engine.Energy(), 1e-9)

	require.NoError(t, c.Pause())
	assert.False(t, c.engine.Running())
	require.NoError(t, c.Resume())
	assert.True(t, c.engine.Running())
	assert.InDelta(t, 2.0, c.engine.Energy(), 1e-9)
}
