package stations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/synoptic"
	"github.com/yegors/stationmap/pkg/logger"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	records []synoptic.StationRecord
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, kind synoptic.Kind) ([]synoptic.StationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

// memStore keeps tables as JSON so loads never alias saved rows
type memStore struct {
	mu      sync.Mutex
	saves   int
	data    map[synoptic.Kind][]byte
	info    map[synoptic.Kind]ArtifactInfo
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{data: map[synoptic.Kind][]byte{}, info: map[synoptic.Kind]ArtifactInfo{}}
}

func (s *memStore) Load(_ context.Context, kind synoptic.Kind) (Table, ArtifactInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Table{}, ArtifactInfo{}, s.loadErr
	}
	data, ok := s.data[kind]
	if !ok {
		return Table{}, ArtifactInfo{}, ErrCacheMiss
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return Table{}, ArtifactInfo{}, err
	}
	return t, s.info[kind], nil
}

func (s *memStore) Save(_ context.Context, t Table, savedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	s.saves++
	s.data[t.Kind] = data
	s.info[t.Kind] = ArtifactInfo{Kind: t.Kind, SavedAt: savedAt, Rows: t.Len(), Location: "mem://" + string(t.Kind)}
	return nil
}

func (s *memStore) Delete(_ context.Context, kind synoptic.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, kind)
	delete(s.info, kind)
	return nil
}

func (s *memStore) Stat(_ context.Context, kind synoptic.Kind) (ArtifactInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.info[kind]
	if !ok {
		return ArtifactInfo{}, ErrCacheMiss
	}
	return info, nil
}

func (s *memStore) Close() error { return nil }

func newTestCache(t *testing.T, f Fetcher, s Store, maxAgeMinutes int) (*Cache, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewCache(f, s, config.CacheConfig{MaxAgeMinutes: maxAgeMinutes}, logger.NewWithCore(core))
	return c, logs
}

const scenarioStations = `[{"STID":"ABC","NAME":"Test","LATITUDE":"40.0","LONGITUDE":"-111.0"}]`

func TestCacheMissFetchesOnceAndPersists(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	cache, logs := newTestCache(t, fetcher, store, 0)

	table, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, []Row{{Name: "Test", StationID: "ABC", Latitude: 40, Longitude: -111}}, table.Rows)
	assert.Equal(t, 1, logs.FilterMessage("Station cache miss").Len())
}

func TestCacheHitPerformsNoFetch(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	cache, logs := newTestCache(t, fetcher, store, 0)

	first, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	persisted := append([]byte(nil), store.data[synoptic.KindMetadata]...)

	second, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, first, second)
	assert.Equal(t, persisted, store.data[synoptic.KindMetadata])

	normalized, _ := Normalize(synoptic.KindMetadata, fetcher.records)
	assert.Equal(t, normalized, second)
	assert.Equal(t, 1, logs.FilterMessage("Station cache hit").Len())
}

func TestCacheKeysByKind(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, `[
		{"STID":"A","NAME":"A","LATITUDE":1,"LONGITUDE":1,"OBSERVATIONS":{"t":1}}
	]`)}
	store := newMemStore()
	cache, _ := newTestCache(t, fetcher, store, 0)

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	latest, err := cache.Get(context.Background(), synoptic.KindLatest)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, synoptic.KindLatest, latest.Kind)
	assert.JSONEq(t, `{"t":1}`, string(latest.Rows[0].Observations))
}

func TestCacheFetchFailureWritesNothing(t *testing.T) {
	fetcher := &fakeFetcher{err: &synoptic.RetrievalError{Kind: synoptic.KindMetadata, HTTPStatus: 200, ResponseCode: 0}}
	store := newMemStore()
	cache, logs := newTestCache(t, fetcher, store, 0)

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	var re *synoptic.RetrievalError
	require.ErrorAs(t, err, &re)

	assert.Zero(t, store.saves)
	_, statErr := store.Stat(context.Background(), synoptic.KindMetadata)
	assert.ErrorIs(t, statErr, ErrCacheMiss)
	assert.Equal(t, 1, logs.FilterMessage("Failed to fetch stations").FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestCacheUnknownKind(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache, _ := newTestCache(t, fetcher, newMemStore(), 0)

	_, err := cache.Get(context.Background(), synoptic.Kind("hourly"))
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = cache.Refresh(context.Background(), synoptic.Kind("hourly"))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.ErrorIs(t, cache.Invalidate(context.Background(), synoptic.Kind("")), ErrUnknownKind)
	assert.Zero(t, fetcher.calls)
}

func TestCacheCorruptArtifactIsAnError(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	store.loadErr = errors.New("unexpected end of input")
	cache, _ := newTestCache(t, fetcher, store, 0)

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load metadata cache")
	assert.Zero(t, fetcher.calls)
}

func TestCacheLogsDroppedRecords(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, `[
		{"STID":"OK","NAME":"ok","LATITUDE":"40","LONGITUDE":"-111"},
		{"STID":"NORTH","NAME":"too far","LATITUDE":"91.0","LONGITUDE":"-111"}
	]`)}
	cache, logs := newTestCache(t, fetcher, newMemStore(), 0)

	table, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	dropped := logs.FilterMessage("Dropped station record").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.WarnLevel, dropped[0].Level)
	assert.Equal(t, "NORTH", dropped[0].ContextMap()["station_id"])
}

func TestCacheExpiresAfterMaxAge(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	cache, _ := newTestCache(t, fetcher, store, 30)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)

	now = now.Add(29 * time.Minute)
	_, err = cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	now = now.Add(2 * time.Minute)
	status, err := cache.Status(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.True(t, status.Expired)

	_, err = cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, 2, store.saves)
}

func TestCacheZeroMaxAgeNeverExpires(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	cache, _ := newTestCache(t, fetcher, newMemStore(), 0)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	now = now.Add(24 * 365 * time.Hour)
	_, err = cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

func TestCacheRefreshFailureKeepsPreviousArtifact(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	cache, _ := newTestCache(t, fetcher, store, 0)

	original, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)

	fetcher.err = &synoptic.TransportError{Kind: synoptic.KindMetadata, Err: errors.New("connection refused")}
	_, err = cache.Refresh(context.Background(), synoptic.KindMetadata)
	var te *synoptic.TransportError
	require.ErrorAs(t, err, &te)

	fetcher.err = nil
	cached, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.Equal(t, original, cached)
	assert.Equal(t, 2, fetcher.calls)
}

func TestCacheRefreshReplacesArtifact(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	cache, _ := newTestCache(t, fetcher, store, 0)

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)

	fetcher.records = decodeRecords(t, `[{"STID":"NEW","NAME":"New","LATITUDE":1,"LONGITUDE":2}]`)
	refreshed, err := cache.Refresh(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.Equal(t, "NEW", refreshed.Rows[0].StationID)

	cached, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.Equal(t, refreshed, cached)
}

func TestCacheInvalidateForcesFetch(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	cache, _ := newTestCache(t, fetcher, store, 0)

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(context.Background(), synoptic.KindMetadata))

	status, err := cache.Status(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.False(t, status.Present)
	assert.Nil(t, status.SavedAt)

	_, err = cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestCacheSaveFailurePropagates(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	cache, _ := newTestCache(t, fetcher, store, 0)

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCacheStatusReportsArtifact(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	cache, _ := newTestCache(t, fetcher, newMemStore(), 0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)

	status, err := cache.Status(context.Background(), synoptic.KindMetadata)
	require.NoError(t, err)
	assert.True(t, status.Present)
	assert.False(t, status.Expired)
	assert.Equal(t, 1, status.Rows)
	require.NotNil(t, status.SavedAt)
	assert.True(t, now.Equal(*status.SavedAt))
}

func TestCacheConcurrentGetFetchesOnce(t *testing.T) {
	fetcher := &fakeFetcher{records: decodeRecords(t, scenarioStations)}
	cache, _ := newTestCache(t, fetcher, newMemStore(), 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), synoptic.KindMetadata)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fetcher.calls)
}
