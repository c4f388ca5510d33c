package geocode

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// NominatimConfig configures the OpenStreetMap Nominatim client.
type NominatimConfig struct {
	BaseURL string `yaml:"base_url"`
	// UserAgent identifies the application, as the usage policy requires.
	UserAgent string        `yaml:"user_agent"`
	Email     string        `yaml:"email"`
	Timeout   time.Duration `yaml:"timeout"`
	// CountryCodes restricts results, e.g. "gb".
	CountryCodes string `yaml:"country_codes"`
}

func (c *NominatimConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.UserAgent == "" {
		c.UserAgent = "planwatch/1.0"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Nominatim is a Geocoder over the Nominatim search API.
type Nominatim struct {
	http *resty.Client
	cfg  NominatimConfig
}

// NewNominatim creates a client. It holds no rate limiter: pacing belongs
// to the caller.
func NewNominatim(cfg NominatimConfig) *Nominatim {
	cfg.defaults()
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(cfg.Timeout)
	return &Nominatim{http: client, cfg: cfg}
}

// NominatimFactory returns a Factory of independent clients.
func NominatimFactory(cfg NominatimConfig) Factory {
	return func() Geocoder { return NewNominatim(cfg) }
}

type place struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode implements Geocoder.
func (n *Nominatim) Geocode(ctx context.Context, query string) (Point, bool, error) {
	params := map[string]string{"format": "jsonv2", "limit": "1", "q": query}
	if n.cfg.Email != "" {
		params["email"] = n.cfg.Email
	}
	if n.cfg.CountryCodes != "" {
		params["countrycodes"] = n.cfg.CountryCodes
	}
	var places []place
	res, err := n.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&places).
		Get("/search")
	if err != nil {
		if ctx.Err() != nil {
			return Point{}, false, ctx.Err()
		}
		return Point{}, false, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	switch sc := res.StatusCode(); {
	case sc == http.StatusTooManyRequests || sc >= 500:
		return Point{}, false, fmt.Errorf("%w: nominatim status %d", ErrTransient, sc)
	case sc >= 400:
		return Point{}, false, fmt.Errorf("geocode: nominatim status %d", sc)
	}
	if len(places) == 0 {
		return Point{}, false, nil
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return Point{}, false, fmt.Errorf("geocode: nominatim lat %q: %w", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return Point{}, false, fmt.Errorf("geocode: nominatim lon %q: %w", places[0].Lon, err)
	}
	return Point{Lat: lat, Lon: lon}, true, nil
}
