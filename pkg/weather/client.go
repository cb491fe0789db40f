// Package weather provides an OpenWeatherMap client and the MCP tool
// handlers built on top of it.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tempest-mcp/tempest/pkg/logger"
)

// OpenWeatherMap API endpoints.
const (
	DefaultAPIBase = "https://api.openweathermap.org/data/2.5"
	DefaultGeoBase = "https://api.openweathermap.org/geo/1.0"

	// requestTimeout caps every outbound API call.
	requestTimeout = 10 * time.Second
)

// Common errors
var (
	ErrCityNotFound  = errors.New("city not found")
	ErrInvalidAPIKey = errors.New("invalid API key; set a valid OpenWeatherMap API key")
)

// Location is a geocoded city.
type Location struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

// Conditions describes the current weather at a location.
type Conditions struct {
	Condition   string
	Description string
	Temp        float64
	FeelsLike   float64
	Humidity    int
	Pressure    int
	WindSpeed   float64
	Visibility  int
}

// ForecastEntry is one 3-hour forecast slot.
type ForecastEntry struct {
	Time        string
	Temp        float64
	Description string
}

// Client talks to the OpenWeatherMap API.
//
// Geocoding results are cached for the process lifetime (city coordinates
// don't move) and concurrent lookups for the same city are collapsed into a
// single outbound request.
type Client struct {
	apiKey     string
	apiBase    string
	geoBase    string
	httpClient *http.Client

	geoGroup singleflight.Group
	geoMu    sync.RWMutex
	geoCache map[string]*Location
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURLs overrides the API base URLs. Used by tests.
func WithBaseURLs(apiBase, geoBase string) ClientOption {
	return func(c *Client) {
		c.apiBase = apiBase
		c.geoBase = geoBase
	}
}

// NewClient creates a new OpenWeatherMap client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:   apiKey,
		apiBase:  DefaultAPIBase,
		geoBase:  DefaultGeoBase,
		geoCache: make(map[string]*Location),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: requestTimeout}
	}
	return c
}

// getJSON performs a GET request and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidAPIKey
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Geocode resolves a city name to coordinates via the geo/1.0/direct API.
func (c *Client) Geocode(ctx context.Context, city string) (*Location, error) {
	key := strings.ToLower(strings.TrimSpace(city))
	if key == "" {
		return nil, ErrCityNotFound
	}

	c.geoMu.RLock()
	cached, ok := c.geoCache[key]
	c.geoMu.RUnlock()
	if ok {
		loc := *cached
		return &loc, nil
	}

	v, err, _ := c.geoGroup.Do(key, func() (any, error) {
		geoURL := fmt.Sprintf("%s/direct?q=%s&limit=1&appid=%s",
			c.geoBase, url.QueryEscape(city), url.QueryEscape(c.apiKey))

		var results []Location
		if err := c.getJSON(ctx, geoURL, &results); err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrCityNotFound, city)
		}

		loc := results[0]
		c.geoMu.Lock()
		c.geoCache[key] = &loc
		c.geoMu.Unlock()

		logger.Debugw("geocoded city", "city", city, "lat", loc.Lat, "lon", loc.Lon)
		return &loc, nil
	})
	if err != nil {
		return nil, err
	}

	loc := *(v.(*Location))
	return &loc, nil
}

// currentResponse mirrors the data/2.5/weather payload.
type currentResponse struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility int `json:"visibility"`
}

// Current fetches the current conditions for a city in metric units.
func (c *Client) Current(ctx context.Context, city string) (*Conditions, error) {
	loc, err := c.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}

	weatherURL := fmt.Sprintf("%s/weather?lat=%g&lon=%g&appid=%s&units=metric",
		c.apiBase, loc.Lat, loc.Lon, url.QueryEscape(c.apiKey))

	var resp currentResponse
	if err := c.getJSON(ctx, weatherURL, &resp); err != nil {
		return nil, err
	}
	if len(resp.Weather) == 0 {
		return nil, fmt.Errorf("weather response missing conditions")
	}

	return &Conditions{
		Condition:   resp.Weather[0].Main,
		Description: resp.Weather[0].Description,
		Temp:        resp.Main.Temp,
		FeelsLike:   resp.Main.FeelsLike,
		Humidity:    resp.Main.Humidity,
		Pressure:    resp.Main.Pressure,
		WindSpeed:   resp.Wind.Speed,
		Visibility:  resp.Visibility,
	}, nil
}

// forecastResponse mirrors the data/2.5/forecast payload.
type forecastResponse struct {
	List []struct {
		DtTxt   string `json:"dt_txt"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
	} `json:"list"`
}

// Forecast fetches up to days*8 3-hour forecast slots for a city.
// days must be between 1 and 5 (the API serves 5 days of slots).
func (c *Client) Forecast(ctx context.Context, city string, days int) ([]ForecastEntry, error) {
	if days < 1 || days > 5 {
		return nil, fmt.Errorf("days must be between 1 and 5")
	}

	loc, err := c.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}

	forecastURL := fmt.Sprintf("%s/forecast?lat=%g&lon=%g&appid=%s&units=metric",
		c.apiBase, loc.Lat, loc.Lon, url.QueryEscape(c.apiKey))

	var resp forecastResponse
	if err := c.getJSON(ctx, forecastURL, &resp); err != nil {
		return nil, err
	}

	// 8 slots per day at 3-hour intervals.
	limit := days * 8
	entries := make([]ForecastEntry, 0, limit)
	for _, item := range resp.List {
		if len(entries) >= limit {
			break
		}
		entry := ForecastEntry{
			Time: item.DtTxt,
			Temp: item.Main.Temp,
		}
		if len(item.Weather) > 0 {
			entry.Description = item.Weather[0].Description
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
