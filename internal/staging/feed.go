// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package staging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/parkwaits/internal/logging"
)

// Ride is one live feed entry.
type Ride struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	IsOpen      bool   `json:"is_open"`
	WaitTime    *int   `json:"wait_time"`
	LastUpdated string `json:"last_updated"`
}

// queueTimesDoc is the per-park feed document: rides nested in lands plus an
// occasional top-level rides list.
type queueTimesDoc struct {
	Lands []struct {
		Rides []Ride `json:"rides"`
	} `json:"lands"`
	Rides []Ride `json:"rides"`
}

// FeedClient fetches the live queue-times feed. Requests are rate limited
// and wrapped in a circuit breaker so a broken upstream degrades to skipped
// cycles instead of hammering the endpoint. System HTTP proxies are never
// honored.
type FeedClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
}

// NewFeedClient builds a client for baseURL.
func NewFeedClient(baseURL string, timeout time.Duration, ratePerSecond float64) *FeedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil // never use HTTP/HTTPS proxy environment variables

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "queue-times",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Live feed circuit breaker state change")
		},
	})

	return &FeedClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

// FetchParkRides returns the flattened ride list for one park.
func (c *FeedClient) FetchParkRides(ctx context.Context, parkID int) ([]Ride, error) {
	url := fmt.Sprintf("%s/parks/%d/queue_times.json", c.baseURL, parkID)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var doc queueTimesDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode queue times for park %d: %w", parkID, err)
	}
	var rides []Ride
	for _, land := range doc.Lands {
		rides = append(rides, land.Rides...)
	}
	rides = append(rides, doc.Rides...)
	return rides, nil
}

func (c *FeedClient) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	})
}

// ParseLastUpdated parses the provider's UTC last-updated stamp and converts
// it into the park zone.
func ParseLastUpdated(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.999Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable last_updated %q", s)
}
