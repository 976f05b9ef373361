package forecast

import (
	"fmt"
	"time"
)

// Location is the household site the forecast provider correlates
// price-relevant local conditions (PV yield, demand) against.
type Location struct {
	Latitude  float64
	Longitude float64
}

// QueryParams parameterises a forecast request.
type QueryParams struct {
	Location Location
	Horizon  time.Duration
}

// apiResponse is the on-wire JSON shape of the forecast provider: a
// timeseries of predicted effective prices with a per-point confidence.
type apiResponse struct {
	Timeseries []apiTimeStep `json:"timeseries"`
}

type apiTimeStep struct {
	Time       time.Time `json:"time"`
	PricePLN   float64   `json:"price_pln_kwh"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// APIError mirrors a non-200 forecast provider response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("forecast API error %d: %s", e.StatusCode, e.Message)
}
