package metricsapi

import (
	"fmt"
	"math"
	"time"
)

// Trend is a least-squares fit over a series, used for exhaustion and
// growth predictions.
type Trend struct {
	SlopePerHour float64
	Intercept    float64
	Latest       float64
	Samples      int
}

// FitTrend computes a linear fit of value against time.
func FitTrend(points []Point) (Trend, error) {
	if len(points) < 2 {
		return Trend{}, fmt.Errorf("need at least 2 points, have %d", len(points))
	}

	t0 := points[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.Timestamp.Sub(t0).Hours()
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	n := float64(len(points))
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Trend{}, fmt.Errorf("degenerate series")
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	return Trend{
		SlopePerHour: slope,
		Intercept:    intercept,
		Latest:       points[len(points)-1].Value,
		Samples:      len(points),
	}, nil
}

// TimeToValue predicts how long until the trend reaches the target value.
// Returns false when the trend never reaches it (wrong direction or flat).
func (t Trend) TimeToValue(target float64) (time.Duration, bool) {
	if t.SlopePerHour == 0 {
		return 0, false
	}
	hours := (target - t.Latest) / t.SlopePerHour
	if hours <= 0 || math.IsInf(hours, 0) || math.IsNaN(hours) {
		return 0, false
	}
	return time.Duration(hours * float64(time.Hour)), true
}
