// Package booking computes what a private booking costs.
package booking

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dj-epidemik/backend/internal/eventtime"
)

// SetupHours and BreakdownHours are billed on top of the performance.
const (
	SetupHours     = 1
	BreakdownHours = 1
)

// ErrNegativeAmount is returned for negative rates or surcharges.
var ErrNegativeAmount = errors.New("amount must not be negative")

// Quote is the breakdown of a booking total.
type Quote struct {
	PerformanceHours float64         `json:"performance_hours"`
	BilledHours      int64           `json:"billed_hours"`
	RatePerHour      decimal.Decimal `json:"rate_per_hour"`
	EquipmentCost    decimal.Decimal `json:"equipment_cost"`
	Total            decimal.Decimal `json:"total"`
}

// BilledHours rounds the performance length plus setup and breakdown up to
// whole hours. Overnight windows are normalized first.
func BilledHours(start, end time.Time) int64 {
	hours := eventtime.Hours(start, end)
	if hours < 0 {
		hours = 0
	}
	return int64(math.Ceil(hours + SetupHours + BreakdownHours))
}

// CalculateTotal returns rate * billed hours + equipment.
func CalculateTotal(start, end time.Time, rate, equipment decimal.Decimal) (Quote, error) {
	if rate.IsNegative() || equipment.IsNegative() {
		return Quote{}, ErrNegativeAmount
	}

	billed := BilledHours(start, end)
	return Quote{
		PerformanceHours: eventtime.Hours(start, end),
		BilledHours:      billed,
		RatePerHour:      rate,
		EquipmentCost:    equipment,
		Total:            rate.Mul(decimal.NewFromInt(billed)).Add(equipment),
	}, nil
}
