package adapters

import (
	"context"
	"net/url"
	"strconv"

	"github.com/promptmack/assistant/internal/httpclient"
)

const DefaultOpenMeteoBaseURL = "https://api.open-meteo.com"

type WeatherConfig struct {
	BaseURL string
	Options []Option
}

// Weather reads forecasts from open-meteo, which needs no API key.
type Weather struct {
	client *httpclient.Client
}

func NewWeather(cfg WeatherConfig) *Weather {
	return &Weather{client: newClient(defaultIfEmpty(cfg.BaseURL, DefaultOpenMeteoBaseURL), nil, cfg.Options)}
}

func (w *Weather) Forecast(ctx context.Context, latitude float64, longitude float64) (map[string]any, error) {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(longitude, 'f', -1, 64)},
		"current":   {"temperature_2m"},
		"hourly":    {"temperature_2m"},
		"daily":     {"sunrise,sunset"},
		"timezone":  {"auto"},
	}
	out := map[string]any{}
	if err := w.client.GetJSON(ctx, "/v1/forecast", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
