// Package forecast implements the outbound forecast source (§6):
// fetch_forecast() → list[{timestamp, price_pln_kwh, confidence}], used by
// the selling engine's smart timing and the charging engine's preventive
// rule. Missing or low-quality confidence is never invented: a point with
// no provider-supplied confidence decays with horizon distance instead.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mjanicki/energy-core/model"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

func NewClient(baseURL, userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		userAgent:  userAgent,
	}
}

// Fetch retrieves the forecast for params and converts it to the shared
// model.ForecastPoint shape. On any failure it returns
// model.ErrForecastUnavailable wrapping the cause; callers treat that as
// confidence=0 per §7.
func (c *Client) Fetch(ctx context.Context, params QueryParams) ([]model.ForecastPoint, error) {
	reqURL, err := c.buildURL(params)
	if err != nil {
		return nil, fmt.Errorf("%w: build url: %v", model.ErrForecastUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", model.ErrForecastUnavailable, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrForecastUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %v", model.ErrForecastUnavailable, &APIError{StatusCode: resp.StatusCode, Message: string(body)})
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", model.ErrForecastUnavailable, err)
	}

	now := time.Now()
	points := make([]model.ForecastPoint, 0, len(parsed.Timeseries))
	for _, step := range parsed.Timeseries {
		confidence := decayedConfidence(step, now)
		points = append(points, model.ForecastPoint{
			Timestamp:   step.Time,
			PricePLNKWh: step.PricePLN,
			Confidence:  confidence,
		})
	}
	return points, nil
}

// decayedConfidence uses the provider's own confidence when supplied;
// otherwise it falls back to a horizon-decay heuristic: 0.9 at the next
// hour, linearly down to 0.3 at 24h out, floored at 0.1 beyond that.
func decayedConfidence(step apiTimeStep, now time.Time) float64 {
	if step.Confidence != nil {
		return clamp01(*step.Confidence)
	}
	hoursOut := step.Time.Sub(now).Hours()
	if hoursOut <= 1 {
		return 0.9
	}
	if hoursOut >= 24 {
		return 0.1
	}
	return 0.9 - (hoursOut-1)/23*0.6
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (c *Client) buildURL(params QueryParams) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(params.Location.Latitude, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(params.Location.Longitude, 'f', 4, 64))
	if params.Horizon > 0 {
		q.Set("horizon_hours", strconv.Itoa(int(params.Horizon.Hours())))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
