package lastfm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groupfm/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		LastfmAPIKey:     "test-key",
		LastfmTimeout:    5 * time.Second,
		LastfmRateLimit:  1000, // effectively unlimited in tests
		LastfmRateBurst:  1000,
		LastfmBreakerMax: 5,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(testConfig())
	c.SetBaseURL(srv.URL)
	return c
}

func TestFetchUserWeek(t *testing.T) {
	from := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "user.getweeklytrackchart", q.Get("method"))
		assert.Equal(t, "alice", q.Get("user"))
		assert.Equal(t, fmt.Sprintf("%d", from.Unix()), q.Get("from"))
		assert.Equal(t, fmt.Sprintf("%d", to.Unix()), q.Get("to"))
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "json", q.Get("format"))

		fmt.Fprint(w, `{
			"weeklytrackchart": {
				"track": [
					{"name": "Karma Police", "artist": {"#text": "Radiohead"}, "album": {"#text": "OK Computer"}, "playcount": "12"},
					{"name": "Glory Box", "artist": {"#text": "Portishead"}, "album": {"#text": ""}, "playcount": 7}
				]
			}
		}`)
	})

	chart, err := c.FetchUserWeek(context.Background(), "alice", from, to)
	require.NoError(t, err)

	assert.Equal(t, "alice", chart.Username)
	assert.Equal(t, from, chart.From)
	require.Len(t, chart.Tracks, 2)

	assert.Equal(t, "Radiohead", chart.Tracks[0].Artist)
	assert.Equal(t, "Karma Police", chart.Tracks[0].Name)
	assert.Equal(t, "OK Computer", chart.Tracks[0].Album)
	// Play counts arrive as strings or numbers depending on provider mood.
	assert.Equal(t, 12, chart.Tracks[0].PlayCount)
	assert.Equal(t, 7, chart.Tracks[1].PlayCount)
	assert.Empty(t, chart.Tracks[1].Album)
}

func TestFetchUserWeekEmptyChart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"weeklytrackchart": {"track": []}}`)
	})

	chart, err := c.FetchUserWeek(context.Background(), "alice", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, chart.Tracks)
}

func TestFetchUserWeekUnknownUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": 6, "message": "User not found"}`)
	})

	_, err := c.FetchUserWeek(context.Background(), "ghost", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFetchUserWeekRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchUserWeek(context.Background(), "alice", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestFetchUserWeekServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.FetchUserWeek(context.Background(), "alice", time.Now(), time.Now())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func TestFetchUserWeekProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": 11, "message": "Service Offline"}`)
	})

	_, err := c.FetchUserWeek(context.Background(), "alice", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Service Offline")
}

func TestFetchUserWeekBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := c.FetchUserWeek(ctx, "alice", time.Now(), time.Now())
		require.Error(t, err)
	}

	// The breaker trips after the configured consecutive failures; later calls
	// fail without reaching the server.
	assert.Equal(t, 5, calls)
}

func TestFetchUserWeekContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"weeklytrackchart": {"track": []}}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchUserWeek(ctx, "alice", time.Now(), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
