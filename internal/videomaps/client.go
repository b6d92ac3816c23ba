package videomaps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// DefaultBaseURL is the vNAS data API
const DefaultBaseURL = "https://data-api.vnas.vatsim.net/api"

// Video map tags consumed by EDST/GPD displays
const (
	TagTraconBoundary = "EDST_TRACON_BOUNDARY"
	TagSectorHigh     = "EDST_SECTOR_HIGH"
	TagSectorLow      = "EDST_SECTOR_LOW"
)

// ErrARTCCNotFound is returned when vNAS does not know an ARTCC
var ErrARTCCNotFound = errors.New("artcc not found")

// VideoMap is one entry of an ARTCC's video map list
type VideoMap struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ARTCC is the subset of the vNAS facility document used here
type ARTCC struct {
	ID        string     `json:"id"`
	VideoMaps []VideoMap `json:"videoMaps"`
}

// Client fetches ARTCC video map metadata from vNAS
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	cache      *expirable.LRU[string, *ARTCC]
	logger     *logger.Logger
}

// NewClient creates a new video map client. Facility documents are cached for
// cacheTTL; zero disables caching.
func NewClient(baseURL string, timeout time.Duration, maxRetries int, cacheTTL time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: maxRetries,
		logger:     log.Named("videomaps"),
	}
	if cacheTTL > 0 {
		c.cache = expirable.NewLRU[string, *ARTCC](64, nil, cacheTTL)
	}
	return c
}

// ARTCC returns the facility document for an ARTCC
func (c *Client) ARTCC(ctx context.Context, artcc string) (*ARTCC, error) {
	key := strings.ToUpper(strings.TrimSpace(artcc))
	if key == "" || strings.ContainsAny(key, "/?#.") {
		return nil, fmt.Errorf("%w: %q", ErrARTCCNotFound, artcc)
	}

	if c.cache != nil {
		if a, ok := c.cache.Get(key); ok {
			return a, nil
		}
	}

	var a ARTCC
	if err := c.fetchWithRetry(ctx, c.baseURL+"/artccs/"+key, &a); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Add(key, &a)
	}
	return &a, nil
}

// MapIDs returns the ids of the ARTCC's video maps carrying tag, in document order
func (c *Client) MapIDs(ctx context.Context, artcc, tag string) ([]string, error) {
	a, err := c.ARTCC(ctx, artcc)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for _, m := range a.VideoMaps {
		for _, t := range m.Tags {
			if t == tag {
				ids = append(ids, m.ID)
				break
			}
		}
	}
	return ids, nil
}

// fetchWithRetry performs the HTTP request with retry logic and exponential backoff
func (c *Client) fetchWithRetry(ctx context.Context, url string, target interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			c.logger.Info("Retrying vNAS request",
				logger.String("url", url),
				logger.Int("attempt", attempt),
				logger.String("backoff", backoffDuration.String()))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		err := c.fetchOnce(ctx, url, target)
		if err == nil {
			return nil
		}
		// a missing facility will not appear on retry
		if errors.Is(err, ErrARTCCNotFound) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("vNAS request failed, may retry",
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.maxRetries+1))
	}

	return fmt.Errorf("failed to fetch %s after %d attempts: %w", url, c.maxRetries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrARTCCNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}
