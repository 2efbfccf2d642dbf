package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"groupfm/config"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Client talks to the listening history provider (audioscrobbler-style API).
// Requests are paced by a token bucket to respect the provider's rate limit
// and wrapped in a circuit breaker so a dead upstream fails fast instead of
// burning the whole timeout per member.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*WeeklyTrackChart]
}

// NewClient creates a provider client from configuration.
func NewClient(cfg *config.Config) *Client {
	settings := gobreaker.Settings{
		Name:        "lastfm",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.LastfmBreakerMax
		},
	}

	return &Client{
		baseURL: cfg.LastfmAPIURL,
		apiKey:  cfg.LastfmAPIKey,
		httpClient: &http.Client{
			Timeout: cfg.LastfmTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.LastfmRateLimit), cfg.LastfmRateBurst),
		breaker: gobreaker.NewCircuitBreaker[*WeeklyTrackChart](settings),
	}
}

// SetBaseURL overrides the API base URL. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// FetchUserWeek fetches one member's listening data for [from, to). A failure
// here concerns that member only; the caller decides how to degrade.
func (c *Client) FetchUserWeek(ctx context.Context, username string, from, to time.Time) (*WeeklyTrackChart, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait for user %s: %w", username, err)
	}

	chart, err := c.breaker.Execute(func() (*WeeklyTrackChart, error) {
		return c.fetchWeeklyTrackChart(ctx, username, from, to)
	})
	if err != nil {
		return nil, err
	}
	return chart, nil
}

func (c *Client) fetchWeeklyTrackChart(ctx context.Context, username string, from, to time.Time) (*WeeklyTrackChart, error) {
	params := url.Values{}
	params.Set("method", "user.getweeklytrackchart")
	params.Set("user", username)
	params.Set("from", fmt.Sprintf("%d", from.Unix()))
	params.Set("to", fmt.Sprintf("%d", to.Unix()))
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for user %s: %w", username, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weekly chart for user %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("provider rate limited fetching user %s: %w", username, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for user %s", resp.StatusCode, username)
	}

	var payload weeklyTrackChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode weekly chart for user %s: %w", username, err)
	}
	if payload.Error != 0 {
		if payload.Error == errorCodeInvalidUser {
			return nil, fmt.Errorf("provider error for user %s: %s: %w", username, payload.Message, ErrUserNotFound)
		}
		return nil, fmt.Errorf("provider error %d for user %s: %s", payload.Error, username, payload.Message)
	}

	chart := &WeeklyTrackChart{
		Username: username,
		From:     from,
		To:       to,
		Tracks:   make([]Track, 0, len(payload.WeeklyTrackChart.Track)),
	}
	for _, t := range payload.WeeklyTrackChart.Track {
		chart.Tracks = append(chart.Tracks, Track{
			Artist:    t.Artist.Text,
			Name:      t.Name,
			Album:     t.Album.Text,
			PlayCount: t.PlayCount.Int(),
		})
	}
	return chart, nil
}
