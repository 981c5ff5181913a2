package integrations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/livesession/internal/tools"
)

const (
	GeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	ForecastURL  = "https://api.open-meteo.com/v1/forecast"

	defaultDaily = "weather_code,temperature_2m_max,temperature_2m_min,precipitation_sum"
)

// DayForecast is one row of the weather widget.
type DayForecast struct {
	Date          string   `json:"date"`
	WeatherCode   *int64   `json:"weather_code"`
	TempMax       *float64 `json:"temp_max"`
	TempMin       *float64 `json:"temp_min"`
	Precipitation *float64 `json:"precipitation"`
}

// Weather resolves place names with open-meteo geocoding and fetches
// forecasts.
type Weather struct {
	client       *http.Client
	geocodingURL string
	forecastURL  string
}

func NewWeather(client *http.Client) *Weather {
	if client == nil {
		client = http.DefaultClient
	}
	return &Weather{client: client, geocodingURL: GeocodingURL, forecastURL: ForecastURL}
}

func (w *Weather) Tools() []tools.Tool {
	return []tools.Tool{{Name: "get_weather", Shape: tools.Sync, Handler: w.handle}}
}

func (w *Weather) get(ctx context.Context, endpoint string, q url.Values) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("weather read: %w", err)
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("error processing weather request: %d", resp.StatusCode)
	}
	return gjson.ParseBytes(body), nil
}

// splitChoice separates "Paris#2" into the query and a 1-based pick.
func splitChoice(location string) (string, int) {
	i := strings.LastIndex(location, "#")
	if i < 0 {
		return location, 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(location[i+1:]))
	if err != nil || n < 1 {
		return location, 0
	}
	return strings.TrimSpace(location[:i]), n
}

func contains(field, want string) bool {
	return field != "" && strings.Contains(strings.ToLower(field), strings.ToLower(want))
}

// Locate geocodes "City[, State[, Country]]". It returns the single match,
// or a user-facing message when there is none or several.
func (w *Weather) Locate(ctx context.Context, location string) (gjson.Result, string, error) {
	query, pick := splitChoice(location)
	parts := strings.Split(query, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	res, err := w.get(ctx, w.geocodingURL, url.Values{
		"name": {parts[0]}, "count": {"15"}, "language": {"en"}, "format": {"json"},
	})
	if err != nil {
		return gjson.Result{}, "", err
	}
	results := res.Get("results").Array()
	if len(results) == 0 {
		return gjson.Result{}, "Could not find location: " + location, nil
	}

	if len(parts) > 1 {
		var filtered []gjson.Result
		for _, r := range results {
			if parts[1] != "" && !contains(r.Get("admin1").String(), parts[1]) {
				continue
			}
			if len(parts) > 2 && parts[2] != "" && !contains(r.Get("country").String(), parts[2]) {
				continue
			}
			filtered = append(filtered, r)
		}
		if len(filtered) > 0 {
			results = filtered
		}
	}

	switch {
	case pick > 0 && pick <= len(results):
		return results[pick-1], "", nil
	case len(results) == 1:
		return results[0], "", nil
	}
	lines := make([]string, 0, len(results))
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("%d. %s, %s, %s", i+1, orNA(r.Get("name")), orNA(r.Get("admin1")), orNA(r.Get("country"))))
	}
	return gjson.Result{}, "Multiple locations found. Please be more specific:\n" + strings.Join(lines, "\n"), nil
}

func orNA(r gjson.Result) string {
	if r.String() == "" {
		return "N/A"
	}
	return r.String()
}

func (w *Weather) handle(ctx context.Context, args tools.Args) (tools.Result, error) {
	place, msg, err := w.Locate(ctx, args.String("location"))
	if err != nil {
		return tools.Result{}, err
	}
	if msg != "" {
		return tools.Text(msg), nil
	}

	q := url.Values{
		"latitude":  {place.Get("latitude").Raw},
		"longitude": {place.Get("longitude").Raw},
		"timezone":  {"auto"},
	}
	forecastDays := 7
	if n, ok := args.Int("forecast_days"); ok {
		forecastDays = n
	}
	q.Set("forecast_days", strconv.Itoa(forecastDays))
	if n, ok := args.Int("past_days"); ok {
		q.Set("past_days", strconv.Itoa(n))
	}
	hourly, daily := args.Strings("hourly"), args.Strings("daily")
	if len(hourly) > 0 {
		q.Set("hourly", strings.Join(hourly, ","))
	}
	if len(daily) > 0 {
		q.Set("daily", strings.Join(daily, ","))
	}
	if len(hourly) == 0 && len(daily) == 0 {
		q.Set("daily", defaultDaily)
	}

	res, err := w.get(ctx, w.forecastURL, q)
	if err != nil {
		return tools.Result{}, err
	}
	if days := DailyForecast(res); days != nil {
		return tools.Result{Value: days}, nil
	}
	return tools.Result{Value: res.Value()}, nil
}

// DailyForecast flattens open-meteo's column-oriented daily block into
// widget rows. It returns nil when the response has no daily times.
func DailyForecast(res gjson.Result) []DayForecast {
	times := res.Get("daily.time").Array()
	if len(times) == 0 {
		return nil
	}
	codes := res.Get("daily.weather_code").Array()
	maxes := res.Get("daily.temperature_2m_max").Array()
	mins := res.Get("daily.temperature_2m_min").Array()
	precip := res.Get("daily.precipitation_sum").Array()

	out := make([]DayForecast, len(times))
	for i, t := range times {
		out[i] = DayForecast{
			Date:          t.String(),
			WeatherCode:   intAt(codes, i),
			TempMax:       floatAt(maxes, i),
			TempMin:       floatAt(mins, i),
			Precipitation: floatAt(precip, i),
		}
	}
	return out
}

func floatAt(col []gjson.Result, i int) *float64 {
	if i >= len(col) || col[i].Type != gjson.Number {
		return nil
	}
	v := col[i].Float()
	return &v
}

func intAt(col []gjson.Result, i int) *int64 {
	if i >= len(col) || col[i].Type != gjson.Number {
		return nil
	}
	v := col[i].Int()
	return &v
}
