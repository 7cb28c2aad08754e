// Package weather answers weather questions from the Open-Meteo geocoding and
// forecast APIs. Neither API needs a key.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pathakanu/memobot/internal/model"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL  = "https://api.open-meteo.com/v1/forecast"

	defaultTimeout = 10 * time.Second
	multiDayCount  = 3
)

// ErrCityNotFound is returned when geocoding has no match.
var ErrCityNotFound = errors.New("city not found")

// Place is a geocoded city.
type Place struct {
	Name      string
	Country   string
	Latitude  float64
	Longitude float64
}

// Label renders "Name, Country".
func (p Place) Label() string {
	if p.Country == "" {
		return p.Name
	}
	return p.Name + ", " + p.Country
}

// Conditions are the current conditions at a place. RainChance is -1 when
// the API did not report it for the current hour.
type Conditions struct {
	Temperature float64
	WindSpeed   float64
	RainChance  int
}

// Day is one day of the daily forecast.
type Day struct {
	Date       time.Time
	Max        float64
	Min        float64
	RainChance int
}

// Client talks to Open-Meteo.
type Client struct {
	http         *http.Client
	geocodingURL string
	forecastURL  string
	logger       *zap.Logger
}

// New returns a Client using the public endpoints.
func New(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		geocodingURL: DefaultGeocodingURL,
		forecastURL:  DefaultForecastURL,
		logger:       logger,
	}
}

// WithEndpoints points the client at other base URLs.
func (c *Client) WithEndpoints(geocodingURL, forecastURL string) *Client {
	c.geocodingURL = geocodingURL
	c.forecastURL = forecastURL
	return c
}

// Answer resolves q into a ready-to-send message.
func (c *Client) Answer(ctx context.Context, q model.WeatherQuery) (string, error) {
	place, err := c.Geocode(ctx, q.City)
	if err != nil {
		return "", err
	}

	if !q.Forecast && !q.MultiDay && q.DaysAhead == 0 {
		cond, err := c.Current(ctx, place)
		if err != nil {
			return "", err
		}
		return FormatCurrent(place, cond), nil
	}

	days, err := c.Forecast(ctx, place)
	if err != nil {
		return "", err
	}
	if q.MultiDay {
		return FormatForecast(place, days[:min(multiDayCount, len(days))]), nil
	}
	i := q.DaysAhead
	if i < 0 || i >= len(days) {
		i = 0
	}
	return FormatForecast(place, days[i:i+1]), nil
}

// Geocode finds the best match for city.
func (c *Client) Geocode(ctx context.Context, city string) (Place, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Place{}, ErrCityNotFound
	}

	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	body, err := c.get(ctx, c.geocodingURL, q)
	if err != nil {
		return Place{}, fmt.Errorf("geocode %q: %w", city, err)
	}

	first := gjson.GetBytes(body, "results.0")
	if !first.Exists() {
		return Place{}, fmt.Errorf("%w: %q", ErrCityNotFound, city)
	}
	return Place{
		Name:      first.Get("name").String(),
		Country:   first.Get("country").String(),
		Latitude:  first.Get("latitude").Float(),
		Longitude: first.Get("longitude").Float(),
	}, nil
}

// Current returns the current conditions at p.
func (c *Client) Current(ctx context.Context, p Place) (Conditions, error) {
	q := coords(p)
	q.Set("current_weather", "true")
	q.Set("hourly", "precipitation_probability")
	q.Set("timezone", "auto")

	body, err := c.get(ctx, c.forecastURL, q)
	if err != nil {
		return Conditions{}, fmt.Errorf("current weather: %w", err)
	}

	current := gjson.GetBytes(body, "current_weather")
	if !current.Exists() {
		return Conditions{}, fmt.Errorf("current weather: missing current_weather")
	}

	cond := Conditions{
		Temperature: current.Get("temperature").Float(),
		WindSpeed:   current.Get("windspeed").Float(),
		RainChance:  -1,
	}
	// Both times are local to the place, truncated to the hour.
	hour := current.Get("time").String()
	if len(hour) >= 13 {
		hour = hour[:13] + ":00"
	}
	for i, t := range gjson.GetBytes(body, "hourly.time").Array() {
		if t.String() == hour {
			if v := gjson.GetBytes(body, fmt.Sprintf("hourly.precipitation_probability.%d", i)); v.Exists() && v.Type != gjson.Null {
				cond.RainChance = int(v.Int())
			}
			break
		}
	}
	return cond, nil
}

// Forecast returns the daily forecast at p, today first.
func (c *Client) Forecast(ctx context.Context, p Place) ([]Day, error) {
	q := coords(p)
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	q.Set("timezone", "auto")

	body, err := c.get(ctx, c.forecastURL, q)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	daily := gjson.GetBytes(body, "daily")
	times := daily.Get("time").Array()
	if len(times) == 0 {
		return nil, fmt.Errorf("forecast: missing daily data")
	}
	maxes := daily.Get("temperature_2m_max").Array()
	mins := daily.Get("temperature_2m_min").Array()
	rain := daily.Get("precipitation_probability_max").Array()

	days := make([]Day, 0, len(times))
	for i, t := range times {
		date, err := time.Parse("2006-01-02", t.String())
		if err != nil {
			return nil, fmt.Errorf("forecast: bad date %q: %w", t.String(), err)
		}
		d := Day{Date: date}
		if i < len(maxes) {
			d.Max = maxes[i].Float()
		}
		if i < len(mins) {
			d.Min = mins[i].Float()
		}
		if i < len(rain) {
			d.RainChance = int(rain[i].Int())
		}
		days = append(days, d)
	}
	return days, nil
}

func (c *Client) get(ctx context.Context, base string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("open-meteo error", zap.String("url", base), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response")
	}
	return body, nil
}

func coords(p Place) url.Values {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", p.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", p.Longitude))
	return q
}

// FormatCurrent renders current conditions.
func FormatCurrent(p Place, c Conditions) string {
	rain := "N/A"
	if c.RainChance >= 0 {
		rain = fmt.Sprintf("%d%%", c.RainChance)
	}
	return fmt.Sprintf("🌤️ Weather in %s:\n🌡️ Temp: %.1f°C\n💨 Wind: %.1f km/h\n☔ Chance of rain: %s",
		p.Label(), c.Temperature, c.WindSpeed, rain)
}

// FormatForecast renders one or more forecast days.
func FormatForecast(p Place, days []Day) string {
	var sb strings.Builder
	if len(days) == 1 {
		fmt.Fprintf(&sb, "📅 Forecast for %s (%s):\n", p.Label(), days[0].Date.Format("Monday, January 2"))
		writeDay(&sb, days[0])
		return strings.TrimRight(sb.String(), "\n")
	}

	fmt.Fprintf(&sb, "📅 Forecast for %s:\n", p.Label())
	for _, d := range days {
		fmt.Fprintf(&sb, "\n%s:\n", d.Date.Format("Monday, January 2"))
		writeDay(&sb, d)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeDay(sb *strings.Builder, d Day) {
	fmt.Fprintf(sb, "🌡️ Max: %.1f°C\n🌡️ Min: %.1f°C\n☔ Rain: %d%%\n", d.Max, d.Min, d.RainChance)
}
