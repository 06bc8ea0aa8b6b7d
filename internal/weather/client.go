package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Observation is the upstream precipitation reading for a coordinate.
type Observation struct {
	// Precipitation is the current rainfall in millimeters over the last hour.
	Precipitation float64
	// ObservedAt is the upstream observation timestamp, not the fetch time.
	ObservedAt time.Time
}

// Client fetches current precipitation from the OpenWeatherMap current
// weather API. The HTTP client carries a hard timeout so a hung upstream can
// never stall a poller tick past its interval.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a weather client.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

// CurrentPrecipitation fetches the current precipitation for a coordinate.
func (c *Client) CurrentPrecipitation(ctx context.Context, lat, lon float64) (Observation, error) {
	params := url.Values{
		"lat":   {fmt.Sprintf("%.4f", lat)},
		"lon":   {fmt.Sprintf("%.4f", lon)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Observation{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Observation{}, fmt.Errorf("weather API error: status %d: %s", resp.StatusCode, body)
	}

	var weatherResp response
	if err := json.NewDecoder(resp.Body).Decode(&weatherResp); err != nil {
		return Observation{}, fmt.Errorf("decode response: %w", err)
	}

	obs := Observation{
		Precipitation: weatherResp.Rain.OneHour,
		ObservedAt:    time.Unix(weatherResp.DT, 0),
	}
	if weatherResp.DT == 0 {
		obs.ObservedAt = time.Now()
	}
	return obs, nil
}

// OpenWeatherMap API response types.

type response struct {
	Rain rain  `json:"rain"`
	DT   int64 `json:"dt"`
}

type rain struct {
	OneHour float64 `json:"1h"`
}
