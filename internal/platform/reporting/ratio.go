package reporting

import "github.com/shopspring/decimal"

// Share returns part/whole on a 0..1 scale, or 0 when whole is not positive.
func Share(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole
}

// Average returns total/count, or 0 when count is not positive.
func Average(total float64, count int64) float64 {
	if count <= 0 {
		return 0
	}
	return total / float64(count)
}

// ShareCount is Share over integer counts.
func ShareCount(part, whole int64) float64 {
	return Share(float64(part), float64(whole))
}

// ShareAmount is Share over money amounts.
func ShareAmount(part, whole decimal.Decimal) float64 {
	if !whole.IsPositive() {
		return 0
	}
	return part.Div(whole).InexactFloat64()
}

// AverageAmount is Average over a money total, rounded to cents.
func AverageAmount(total decimal.Decimal, count int64) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(count)).Round(2)
}

// Percent converts a 0..1 share to the 0..100 scale.
func Percent(share float64) float64 {
	return share * 100
}

type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// Trend compares a metric against the previous window. Value is the
// relative change on a 0..1 scale (negative when falling).
type Trend struct {
	Direction TrendDirection `json:"direction"`
	Value     float64        `json:"value"`
}

// Change builds the Trend from current to previous. A zero previous value
// yields a zero relative change but still reports the direction.
func Change(current, previous float64) Trend {
	dir := TrendFlat
	switch {
	case current > previous:
		dir = TrendUp
	case current < previous:
		dir = TrendDown
	}
	return Trend{Direction: dir, Value: Share(current-previous, previous)}
}
