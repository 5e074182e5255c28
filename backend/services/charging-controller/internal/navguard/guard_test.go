package navguard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/store"
)

type countingMetrics struct{ redirects int }

func (m *countingMetrics) GuardRedirect() { m.redirects++ }

type failingFlag struct{}

func (failingFlag) Active(context.Context) (bool, error)  { return false, errors.New("down") }
func (failingFlag) SetActive(context.Context, bool) error { return nil }

func setup(t *testing.T) (*store.SnapshotStore, *KVFlag) {
	t.Helper()
	ctx := context.Background()
	kv := store.NewMemoryKV()
	snapshots := store.NewSnapshotStore(kv)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	metas := []models.SessionMeta{
		{SessionID: "old", ReservationID: "r-old", VehicleID: "v-old", CreatedAt: base},
		{SessionID: "cur", ReservationID: "r-cur", VehicleID: "v-cur", CreatedAt: base.Add(time.Hour)},
		{SessionID: "done", ReservationID: "r-done", VehicleID: "v-done", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, m := range metas {
		_, err := snapshots.SaveMeta(ctx, m)
		require.NoError(t, err)
	}
	_, err := snapshots.SaveStop(ctx, models.StopRecord{SessionID: "done"})
	require.NoError(t, err)

	return snapshots, NewKVFlag(kv)
}

func TestGuardIdleAllowsEverything(t *testing.T) {
	snapshots, flag := setup(t)
	g := NewGuard(flag, snapshots, DefaultRoutes(), nil, nil)

	d := g.Check(context.Background(), "/stations?near=me")
	assert.True(t, d.Allowed)
	assert.Equal(t, StateIdle, g.State())
}

func TestGuardRedirectsWithMetaParams(t *testing.T) {
	ctx := context.Background()
	snapshots, flag := setup(t)
	metrics := &countingMetrics{}
	g := NewGuard(flag, snapshots, DefaultRoutes(), nil, metrics)
	require.NoError(t, flag.SetActive(ctx, true))

	d := g.Check(ctx, "/stations")
	require.False(t, d.Allowed)
	assert.Equal(t, StateGuarding, g.State())
	assert.Equal(t, "/charging", d.Redirect.Path)
	assert.Equal(t, "cur", d.Redirect.Query.Get(ParamSessionID))
	assert.Equal(t, "r-cur", d.Redirect.Query.Get(ParamReservationID))
	assert.Equal(t, "v-cur", d.Redirect.Query.Get(ParamVehicleID))
	assert.Equal(t, 1, metrics.redirects)
}

func TestGuardAllowsInFlowPaths(t *testing.T) {
	ctx := context.Background()
	snapshots, flag := setup(t)
	g := NewGuard(flag, snapshots, DefaultRoutes(), nil, nil)
	require.NoError(t, flag.SetActive(ctx, true))

	for _, dest := range []string{"/charging?sessionId=cur", "/receipt", "/payment/confirm", "/charging/"} {
		assert.True(t, g.Check(ctx, dest).Allowed, dest)
	}
	assert.False(t, g.Check(ctx, "/chargingstations").Allowed)
}

func TestGuardReturnsToIdleWhenFlagCleared(t *testing.T) {
	ctx := context.Background()
	snapshots, flag := setup(t)
	g := NewGuard(flag, snapshots, DefaultRoutes(), nil, nil)

	require.NoError(t, flag.SetActive(ctx, true))
	g.Check(ctx, "/admin")
	assert.Equal(t, StateGuarding, g.State())

	require.NoError(t, flag.SetActive(ctx, false))
	assert.True(t, g.Check(ctx, "/admin").Allowed)
	assert.Equal(t, StateIdle, g.State())
}

func TestGuardWithoutMetaRedirectsBare(t *testing.T) {
	ctx := context.Background()
	flag := &MemoryFlag{}
	require.NoError(t, flag.SetActive(ctx, true))
	g := NewGuard(flag, store.NewSnapshotStore(store.NewMemoryKV()), DefaultRoutes(), nil, nil)

	d := g.Check(ctx, "/vouchers")
	require.False(t, d.Allowed)
	assert.Equal(t, "/charging", d.Redirect.String())
}

func TestGuardFlagErrorFailsOpen(t *testing.T) {
	g := NewGuard(failingFlag{}, store.NewSnapshotStore(store.NewMemoryKV()), DefaultRoutes(), nil, nil)
	assert.True(t, g.Check(context.Background(), "/anything").Allowed)
}

func TestGuardMiddleware(t *testing.T) {
	ctx := context.Background()
	snapshots, flag := setup(t)
	g := NewGuard(flag, snapshots, DefaultRoutes(), nil, nil)
	require.NoError(t, flag.SetActive(ctx, true))

	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := g.Middleware(page)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stations", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/charging", loc.Path)
	assert.Equal(t, "cur", loc.Query().Get(ParamSessionID))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/receipt?sessionId=cur", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardMiddlewareRedirectsDottedPaths(t *testing.T) {
	ctx := context.Background()
	snapshots, flag := setup(t)
	g := NewGuard(flag, snapshots, DefaultRoutes(), nil, nil)
	require.NoError(t, flag.SetActive(ctx, true))

	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, p := range []string{"/admin.html", "/stations/v1.2", "/assetsx/app.js", "/favicon.ico"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code, p)
	}
}

func TestRoutesIsAsset(t *testing.T) {
	r := DefaultRoutes()
	assert.True(t, r.IsAsset("/assets/app.js"))
	assert.False(t, r.IsAsset("/assets"))
	assert.False(t, r.IsAsset("/admin.html"))

	custom := Routes{Assets: "/static"}
	assert.True(t, custom.IsAsset("/static/css/site.css"))
	assert.False(t, custom.IsAsset("/assets/app.js"))
}

func TestPaymentRouteEncodesAmount(t *testing.T) {
	r := DefaultRoutes().PaymentRoute("s-1", 3.456, "EUR", models.PaymentMethodCard)
	assert.Equal(t, "/payment", r.Path)
	assert.Equal(t, "3.46", r.Query.Get(ParamAmount))
	assert.Equal(t, models.PaymentMethodCard, r.Query.Get(ParamMethod))
}
