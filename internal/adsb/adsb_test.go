package adsb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/passive.radar/internal/httputil"
	"github.com/banshee-data/passive.radar/internal/monitoring"
	"github.com/banshee-data/passive.radar/internal/timeutil"
	"github.com/banshee-data/passive.radar/internal/units"
)

func init() {
	monitoring.SetLogger(nil)
}

func ptr(v float64) *float64 { return &v }

const sampleFeed = `{
  "now": 1700000000.5,
  "messages": 1234,
  "aircraft": [
    {"hex": "a1b2c3", "flight": "UAL123  ", "lat": 37.6, "lon": -122.1, "alt_baro": 5000, "gs": 250, "track": 45, "geom_rate": -640},
    {"hex": "d4e5f6", "lat": 37.61, "lon": -122.38, "alt_baro": "ground", "gs": 0, "track": 0},
    {"hex": "abcdef", "alt_baro": 36000}
  ]
}`

func TestAltitude_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    Altitude
		wantErr bool
	}{
		{`5000`, 5000, false},
		{`-75.5`, -75.5, false},
		{`"ground"`, 0, false},
		{`"air"`, 0, true},
		{`true`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var a Altitude
			err := json.Unmarshal([]byte(tt.in), &a)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a)
		})
	}
}

func TestFeed_Decode(t *testing.T) {
	var feed Feed
	require.NoError(t, json.Unmarshal([]byte(sampleFeed), &feed))
	require.Len(t, feed.Aircraft, 3)

	first := feed.Aircraft[0]
	assert.True(t, first.HasPosition())
	assert.Equal(t, "a1b2c3", first.Hex)

	ground := feed.Aircraft[1]
	require.NotNil(t, ground.AltBaro, "ground must decode as a present altitude")
	assert.Equal(t, Altitude(0), *ground.AltBaro)
	assert.True(t, ground.HasPosition())

	assert.False(t, feed.Aircraft[2].HasPosition())
}

func TestAircraft_Target(t *testing.T) {
	alt := Altitude(5000)
	a := Aircraft{Lat: ptr(37.6), Lon: ptr(-122.1), AltBaro: &alt, GS: ptr(250), Track: ptr(45), GeomRate: ptr(1000)}
	tg := a.Target()

	require.True(t, tg.HasPosition())
	require.True(t, tg.HasVelocity())
	assert.InDelta(t, 1524, *tg.Altitude, 1e-9)
	assert.InDelta(t, units.KnotsToMPS(250), *tg.GroundSpeed, 1e-9)
	assert.InDelta(t, 5.08, *tg.VerticalRate, 1e-9)
	assert.Equal(t, 45.0, *tg.Track)

	empty := Aircraft{Hex: "x"}.Target()
	assert.False(t, empty.HasPosition())
	assert.False(t, empty.HasVelocity())
	assert.Nil(t, empty.VerticalRate)
}

func TestFeedURL(t *testing.T) {
	assert.Equal(t, "http://adsb.local:8078/data/aircraft.json", FeedURL("adsb.local:8078"))
	assert.Equal(t, "https://tar1090.example/data/aircraft.json", FeedURL("https://tar1090.example/"))
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/aircraft.json", r.URL.Path)
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(httputil.NewStandardClient(srv.Client()), srv.URL)
	list, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestHTTPFetcher_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		mock := httputil.NewMockHTTPClient().AddResponse(http.StatusServiceUnavailable, "")
		_, err := NewHTTPFetcher(mock, "adsb.local").Fetch(context.Background())
		assert.ErrorIs(t, err, ErrFeedStatus)
	})
	t.Run("malformed", func(t *testing.T) {
		mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, `{"aircraft": [`)
		_, err := NewHTTPFetcher(mock, "adsb.local").Fetch(context.Background())
		assert.Error(t, err)
	})
	t.Run("transport", func(t *testing.T) {
		mock := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("connection refused"))
		_, err := NewHTTPFetcher(mock, "adsb.local").Fetch(context.Background())
		assert.Error(t, err)
	})
}

func TestHTTPFetcher_RequestURL(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, `{"aircraft":[]}`)
	_, err := NewHTTPFetcher(mock, "10.0.0.5:8078").Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, "http://10.0.0.5:8078/data/aircraft.json", mock.GetRequest(0).URL.String())
}

type fakeFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	fn      func(ctx context.Context, call int32) ([]Aircraft, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]Aircraft, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.fn(ctx, n)
}

func fleet(hexes ...string) []Aircraft {
	out := make([]Aircraft, len(hexes))
	for i, h := range hexes {
		out[i] = Aircraft{Hex: h}
	}
	return out
}

func TestCache_RefreshesOncePerInterval(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	f := &fakeFetcher{fn: func(ctx context.Context, n int32) ([]Aircraft, error) {
		return fleet("a"), nil
	}}
	c := NewCache(CacheConfig{Fetcher: f, Clock: clock, Interval: time.Second})

	assert.Len(t, c.Aircraft(context.Background()), 1)
	assert.Len(t, c.Aircraft(context.Background()), 1)
	assert.EqualValues(t, 1, f.calls.Load())

	// exactly one interval is not yet stale
	clock.Advance(time.Second)
	c.Aircraft(context.Background())
	assert.EqualValues(t, 1, f.calls.Load())

	clock.Advance(time.Millisecond)
	c.Aircraft(context.Background())
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestCache_SingleFlight(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	f := &fakeFetcher{
		release: make(chan struct{}),
		fn: func(ctx context.Context, n int32) ([]Aircraft, error) {
			return fleet("a", "b"), nil
		},
	}
	c := NewCache(CacheConfig{Fetcher: f, Clock: clock})

	var wg sync.WaitGroup
	results := make([][]Aircraft, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Aircraft(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.EqualValues(t, 1, f.calls.Load())
	for _, r := range results {
		assert.Len(t, r, 2)
	}
}

func TestCache_FailureServesEmptyList(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	f := &fakeFetcher{fn: func(ctx context.Context, n int32) ([]Aircraft, error) {
		if n == 1 {
			return fleet("a", "b", "c"), nil
		}
		return nil, errors.New("feed down")
	}}
	c := NewCache(CacheConfig{Fetcher: f, Clock: clock})

	require.Len(t, c.Aircraft(context.Background()), 3)

	clock.Advance(2 * time.Second)
	got := c.Aircraft(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got, "stale entries must not survive a failed refresh")
	assert.Equal(t, clock.Now(), c.LastFetch())
}

func TestCache_TimeoutCancelsFetch(t *testing.T) {
	f := &fakeFetcher{fn: func(ctx context.Context, n int32) ([]Aircraft, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewCache(CacheConfig{Fetcher: f, Timeout: 20 * time.Millisecond})

	start := time.Now()
	got := c.Aircraft(context.Background())
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCache_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	f := &fakeFetcher{fn: func(ctx context.Context, n int32) ([]Aircraft, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return fleet("a"), nil
		}
	}}
	c := NewCache(CacheConfig{Fetcher: f})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Len(t, c.Aircraft(ctx), 1)
}

func TestCache_SnapshotDoesNotRefresh(t *testing.T) {
	f := &fakeFetcher{fn: func(ctx context.Context, n int32) ([]Aircraft, error) {
		return fleet("a"), nil
	}}
	c := NewCache(CacheConfig{Fetcher: f})

	assert.Empty(t, c.Snapshot())
	assert.EqualValues(t, 0, f.calls.Load())
	assert.True(t, c.LastFetch().IsZero())
}
