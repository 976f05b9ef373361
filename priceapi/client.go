// Package priceapi implements the outbound day-ahead market price source
// (§6 price source): fetch_prices(business_date) against an ENTSO-E-style
// XML feed, with an on-disk cache for the business day.
package priceapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// Client fetches day-ahead price curves from a configurable API endpoint.
// urlFormat takes three %s verbs: period start, period end (both
// yyyyMMddHHmm UTC) and the security token.
type Client struct {
	httpClient    *http.Client
	userAgent     string
	urlFormat     string
	securityToken string
	location      *time.Location
}

func NewClient(urlFormat, securityToken string, location *time.Location) *Client {
	if location == nil {
		location = time.Local
	}
	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		userAgent:     "energy-core/1.0",
		urlFormat:     urlFormat,
		securityToken: securityToken,
		location:      location,
	}
}

// FetchDayAhead fetches the curve for businessDate, and — once local time
// is at or past 13:00 — also fetches and merges the next day's curve, since
// day-ahead auctions clear in the early afternoon.
func (c *Client) FetchDayAhead(ctx context.Context, businessDate time.Time) (model.PriceCurve, error) {
	local := businessDate.In(c.location)
	curve, err := c.fetchOneDay(ctx, local)
	if err != nil {
		return model.PriceCurve{}, err
	}

	if local.Hour() >= 13 {
		tomorrow, err := c.fetchOneDay(ctx, local.AddDate(0, 0, 1))
		if err == nil {
			curve.Points = append(curve.Points, tomorrow.Points...)
		}
	}
	return curve, nil
}

func (c *Client) fetchOneDay(ctx context.Context, day time.Time) (model.PriceCurve, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	url := fmt.Sprintf(c.urlFormat, utcStamp(start), utcStamp(end), c.securityToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.PriceCurve{}, fmt.Errorf("%w: build request: %v", model.ErrPriceUnavailable, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.PriceCurve{}, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.PriceCurve{}, fmt.Errorf("%w: status %d", model.ErrPriceUnavailable, resp.StatusCode)
	}

	doc, err := decodeMarketDocument(resp.Body)
	if err != nil {
		return model.PriceCurve{}, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}

	timestamps, prices := doc.timestampsAndPrices()
	points := make([]model.PricePoint, len(timestamps))
	for i := range timestamps {
		points[i] = model.PricePoint{Timestamp: timestamps[i], MarketPricePLNPerMWh: prices[i]}
	}
	return model.PriceCurve{Points: points}, nil
}

func utcStamp(t time.Time) string {
	return t.UTC().Format("200601021504")
}
