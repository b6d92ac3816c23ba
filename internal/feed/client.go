package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// Client fetches the live VATSIM data feed
type Client struct {
	httpClient *http.Client
	sourceURL  string
	maxRetries int
	logger     *logger.Logger
}

// NewClient creates a new feed client
func NewClient(sourceURL string, timeout time.Duration, maxRetries int, log *logger.Logger) *Client {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		sourceURL:  sourceURL,
		maxRetries: maxRetries,
		logger:     log.Named("feed"),
	}
}

// FetchData fetches the raw feed document
func (c *Client) FetchData(ctx context.Context) (*RawData, error) {
	var data RawData
	if err := c.fetchWithRetry(ctx, &data); err != nil {
		return nil, err
	}

	c.logger.Debug("Successfully fetched VATSIM data",
		logger.Int("pilot_count", len(data.Pilots)),
		logger.String("update", data.General.Update),
	)

	return &data, nil
}

// FetchFlightplans returns every pilot with a filed flight plan keyed by callsign
func (c *Client) FetchFlightplans(ctx context.Context) (map[string]Flightplan, error) {
	data, err := c.FetchData(ctx)
	if err != nil {
		return nil, err
	}

	flightplans := make(map[string]Flightplan, len(data.Pilots))
	for _, p := range data.Pilots {
		fp, ok := p.Convert()
		if !ok || fp.Callsign == "" {
			continue
		}
		flightplans[fp.Callsign] = fp
	}
	return flightplans, nil
}

// fetchWithRetry performs the HTTP request with retry logic and exponential backoff
func (c *Client) fetchWithRetry(ctx context.Context, target interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			c.logger.Info("Retrying VATSIM data fetch",
				logger.Int("attempt", attempt),
				logger.String("backoff", backoffDuration.String()))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		err := c.fetchOnce(ctx, target)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("VATSIM data request failed, may retry",
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.maxRetries+1))
	}

	return fmt.Errorf("failed to fetch VATSIM data after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}
