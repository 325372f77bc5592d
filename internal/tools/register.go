package tools

import (
	"fmt"
	"net/http"
	"time"
)

// BuiltinConfig configures the builtin tool set.
type BuiltinConfig struct {
	// HTTPClient serves the weather and search tools. Nil gets a client
	// with a 15s timeout.
	HTTPClient *http.Client

	// SearchBaseURL is the SearXNG instance for the search tool. Empty
	// leaves the search tool unregistered.
	SearchBaseURL string

	// WeatherBaseURL is the Open-Meteo compatible forecast API.
	WeatherBaseURL string

	// GeocodingBaseURL overrides the geocoding endpoint (tests).
	GeocodingBaseURL string

	// Now overrides the clock for current_time (tests).
	Now func() time.Time
}

// RegisterBuiltins registers the builtin tools: calculator, weather,
// current_time and, when a search backend is configured, search.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.WeatherBaseURL == "" {
		cfg.WeatherBaseURL = "https://api.open-meteo.com"
	}

	calc, err := Calculator()
	if err != nil {
		return fmt.Errorf("building calculator: %w", err)
	}

	weather, err := Weather(cfg.HTTPClient, cfg.WeatherBaseURL, cfg.GeocodingBaseURL)
	if err != nil {
		return fmt.Errorf("building weather: %w", err)
	}

	clock, err := CurrentTime(cfg.Now)
	if err != nil {
		return fmt.Errorf("building current_time: %w", err)
	}

	for _, d := range []*Descriptor{calc, weather, clock} {
		if err := r.Register(d); err != nil {
			return fmt.Errorf("registering %q: %w", d.Name, err)
		}
	}

	if cfg.SearchBaseURL != "" {
		search, err := Search(cfg.HTTPClient, cfg.SearchBaseURL)
		if err != nil {
			return fmt.Errorf("building search: %w", err)
		}
		if err := r.Register(search); err != nil {
			return fmt.Errorf("registering %q: %w", search.Name, err)
		}
	}

	return nil
}
