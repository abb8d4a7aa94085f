package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"group-chatter/internal/analytics"
	"group-chatter/internal/history"
	"group-chatter/internal/storage"
	"group-chatter/internal/tokens"
)

type fakeSaver struct {
	mu    sync.Mutex
	saves []history.Snapshot
	err   error
}

func (f *fakeSaver) SaveFrom(src storage.Snapshotter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, src.Snapshot())
	return f.err
}

var (
	general = history.Key{Category: "General", ChannelID: "100"}
	info    = history.Key{Category: "Information", ChannelID: "200"}
	base    = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) (*Service, *history.Store, *fakeSaver) {
	t.Helper()
	store := history.NewStore(history.Options{
		Estimator: tokens.NewEstimator(4),
		Now:       func() time.Time { return base },
	})
	store.Append(general, history.Entry{Speaker: "alice", Text: "hello there", CreatedAt: base})
	store.Append(general, history.Entry{Speaker: "bob", Text: "hi", CreatedAt: base.Add(time.Minute)})
	store.Append(info, history.Entry{Speaker: "carol", Text: "release notes", CreatedAt: base})

	rec, err := storage.NewFileRecorder(filepath.Join(t.TempDir(), "interactions.jsonl"))
	require.NoError(t, err)
	require.NoError(t, rec.AppendInteraction(storage.Event{Timestamp: base, Category: "General", ChannelID: "100", Messages: 2, Outcome: storage.OutcomeReplied}))
	require.NoError(t, rec.AppendInteraction(storage.Event{Timestamp: base.Add(time.Hour), Category: "Information", ChannelID: "200", Messages: 1, Outcome: storage.OutcomeListenOnly}))

	saver := &fakeSaver{}
	svc := NewService(store, saver, rec, base.Add(-26*time.Hour-5*time.Minute), time.UTC)
	svc.now = func() time.Time { return base }
	return svc, store, saver
}

func TestServiceClearPersists(t *testing.T) {
	svc, store, saver := newService(t)

	require.NoError(t, svc.Clear(general))
	assert.Empty(t, store.History(general))
	assert.Len(t, store.History(info), 1)
	require.Len(t, saver.saves, 1)
	assert.NotContains(t, saver.saves[0], "General")

	require.NoError(t, svc.ClearAll())
	assert.Empty(t, store.Keys())
	require.Len(t, saver.saves, 2)
	assert.Empty(t, saver.saves[1])
}

func TestServiceClearReportsSaveFailure(t *testing.T) {
	svc, store, saver := newService(t)
	saver.err = errors.New("disk full")

	err := svc.Clear(general)
	require.Error(t, err)
	assert.Empty(t, store.History(general), "cache is cleared even when persisting fails")
}

func TestServiceUptimeAndDaily(t *testing.T) {
	svc, _, _ := newService(t)
	assert.Equal(t, "1d 2h 5m", svc.Uptime())

	ds, err := svc.Today()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", ds.Date)
	assert.Equal(t, 2, ds.Batches)
	assert.Equal(t, 1, ds.Replies)
}

func TestServiceDailyWithoutRecorder(t *testing.T) {
	store := history.NewStore(history.Options{})
	svc := NewService(store, nil, nil, base, nil)
	_, err := svc.Daily(base)
	assert.Error(t, err)
	assert.NoError(t, svc.ClearAll())
}

func serve(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterReadEndpoints(t *testing.T) {
	svc, _, _ := newService(t)
	r := NewRouter(zerolog.Nop(), svc, "secret")

	rr := serve(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = serve(t, r, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var totals history.Totals
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &totals))
	assert.Equal(t, 2, totals.Channels)
	assert.Equal(t, 3, totals.Messages)
	assert.Equal(t, 2, totals.PerCategory["General"].Messages)

	rr = serve(t, r, http.MethodGet, "/stats/General/100", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var cs history.ChannelStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cs))
	assert.Equal(t, 2, cs.Messages)

	rr = serve(t, r, http.MethodGet, "/stats/daily?date=2024-01-15", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var ds analytics.DailyStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ds))
	assert.Equal(t, 2, ds.Batches)

	rr = serve(t, r, http.MethodGet, "/stats/daily?date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterClearRequiresToken(t *testing.T) {
	svc, store, _ := newService(t)
	r := NewRouter(zerolog.Nop(), svc, "secret")

	rr := serve(t, r, http.MethodDelete, "/cache/General/100", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = serve(t, r, http.MethodDelete, "/cache/General/100", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Len(t, store.History(general), 2)

	rr = serve(t, r, http.MethodDelete, "/cache/General/100", "secret")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, store.History(general))
	assert.Len(t, store.History(info), 1)

	rr = serve(t, r, http.MethodDelete, "/cache", "secret")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, store.Keys())
}

func TestRouterOpenWithoutToken(t *testing.T) {
	svc, store, _ := newService(t)
	r := NewRouter(zerolog.Nop(), svc, "")

	rr := serve(t, r, http.MethodDelete, "/cache", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, store.Keys())
}
