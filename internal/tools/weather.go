package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"
)

// maxToolResponseSize caps tool HTTP response bodies at 1MB. Tool outputs
// feed straight back into the model prompt; anything bigger is waste.
const maxToolResponseSize = 1 << 20

// weatherReport is the weather tool output.
type weatherReport struct {
	City          string  `json:"city"`
	TemperatureC  float64 `json:"temperature_c"`
	WindSpeedKmh  float64 `json:"wind_speed_kmh"`
	WeatherCode   int     `json:"weather_code"`
	Description   string  `json:"description"`
}

// Weather returns the weather tool descriptor. It resolves the city
// through the Open-Meteo geocoding API and fetches current conditions
// from the forecast API at baseURL.
func Weather(client *http.Client, baseURL, geocodingURL string) (*Descriptor, error) {
	schema, err := jsonschema.For[WeatherInput](nil)
	if err != nil {
		return nil, fmt.Errorf("weather schema: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if geocodingURL == "" {
		geocodingURL = "https://geocoding-api.open-meteo.com"
	}

	return &Descriptor{
		Name:        "weather",
		Description: "Returns current weather conditions (temperature, wind, sky) for a city.",
		Schema:      schema,
		Enabled:     true,
		Options:     map[string]any{"base_url": baseURL},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			city, _ := input["city"].(string)
			if city == "" {
				return nil, fmt.Errorf("city is required")
			}

			lat, lon, resolvedName, err := geocode(ctx, client, geocodingURL, city)
			if err != nil {
				return nil, err
			}
			return currentWeather(ctx, client, baseURL, resolvedName, lat, lon)
		},
	}, nil
}

// geocode resolves a city name to coordinates.
func geocode(ctx context.Context, client *http.Client, baseURL, city string) (lat, lon float64, name string, err error) {
	u := fmt.Sprintf("%s/v1/search?name=%s&count=1", baseURL, url.QueryEscape(city))

	var result struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := getJSON(ctx, client, u, &result); err != nil {
		return 0, 0, "", fmt.Errorf("geocoding %q: %w", city, err)
	}
	if len(result.Results) == 0 {
		return 0, 0, "", fmt.Errorf("unknown city %q", city)
	}

	r := result.Results[0]
	return r.Latitude, r.Longitude, r.Name, nil
}

// currentWeather fetches current conditions for the coordinates.
func currentWeather(ctx context.Context, client *http.Client, baseURL, city string, lat, lon float64) (*weatherReport, error) {
	u := fmt.Sprintf("%s/v1/forecast?latitude=%.4f&longitude=%.4f&current_weather=true", baseURL, lat, lon)

	var result struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := getJSON(ctx, client, u, &result); err != nil {
		return nil, fmt.Errorf("fetching weather for %q: %w", city, err)
	}

	cw := result.CurrentWeather
	return &weatherReport{
		City:         city,
		TemperatureC: cw.Temperature,
		WindSpeedKmh: cw.WindSpeed,
		WeatherCode:  cw.WeatherCode,
		Description:  weatherDescription(cw.WeatherCode),
	}, nil
}

// weatherDescription maps WMO weather codes to a short phrase.
func weatherDescription(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}

// getJSON performs a GET and decodes a JSON body, with a response size cap.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxToolResponseSize)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
