package model

import "errors"

// Error kinds from the error-handling design. Decision engines never
// propagate these as Go errors from Decide(); they fold them into a wait
// Decision's Reason/Priority instead. They exist as sentinels so
// collaborators (priceapi, inverter, storage) and the coordinator can use
// errors.Is/errors.As at their own boundary.
var (
	ErrStaleSnapshot       = errors.New("stale snapshot")
	ErrInverterUnreachable = errors.New("inverter unreachable")
	ErrPriceUnavailable    = errors.New("price curve unavailable")
	ErrForecastUnavailable = errors.New("forecast unavailable")
	ErrBudgetExhausted     = errors.New("budget exhausted")
	ErrSafetyGateFailed    = errors.New("safety gate failed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrActionFailed        = errors.New("inverter action failed")
)
