package calc

import (
	"errors"
	"math"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
)

const (
	MinChronicPeriodDays = 28
	MaxChronicPeriodDays = 90
	AcuteWindowDays      = 7
	ReliableLookbackDays = 28
)

// ErrNoSamplesInWindow is returned when the chronic window holds no recorded
// sample. It is never reported as a zero load.
var ErrNoSamplesInWindow = errors.New("no recorded load samples in chronic window")

// Params are the configuration values the calculation depends on.
type Params struct {
	ChronicPeriodDays int     `json:"chronicPeriodDays"`
	DecayRate         float64 `json:"decayRate"`
}

func (p Params) Validate() error {
	if p.ChronicPeriodDays < MinChronicPeriodDays || p.ChronicPeriodDays > MaxChronicPeriodDays {
		return acwrerr.NewValidation(
			"chronic_period_days",
			"must be within [%d, %d], got %d",
			MinChronicPeriodDays, MaxChronicPeriodDays, p.ChronicPeriodDays,
		)
	}
	// negated form also rejects NaN
	if !(p.DecayRate > 0 && p.DecayRate <= 1) {
		return acwrerr.NewValidation("decay_rate", "must be within (0, 1], got %v", p.DecayRate)
	}
	return nil
}

// Weight is the exponential decay weight of a day daysAgo days before the
// as-of date.
func Weight(decayRate float64, daysAgo int) float64 {
	return math.Exp(-decayRate * float64(daysAgo))
}

// Chronic holds the decay-weighted chronic loads for one as-of date.
type Chronic struct {
	Load            float64 `json:"load"`
	TRIMP           float64 `json:"trimp"`
	LookbackDays    int     `json:"lookbackDays"`
	SamplesInWindow int     `json:"samplesInWindow"`
	DataSufficiency float64 `json:"dataSufficiency"`
}

// ChronicLoad computes the weighted average of external and internal load
// over the window max(asOf-(N-1), first sample)..asOf. Days before the
// first sample are left out of both sums; gap days after it count as zero.
func ChronicLoad(series *Series, params Params, asOf time.Time) (Chronic, error) {
	if err := params.Validate(); err != nil {
		return Chronic{}, err
	}
	day := Day(asOf)
	if series == nil || series.FirstDate().IsZero() {
		return Chronic{}, ErrNoSamplesInWindow
	}
	if h := series.Horizon(); !h.IsZero() && day.After(h) {
		return Chronic{}, acwrerr.NewInvalidDate(day, "date is after the last ingested day")
	}
	if day.Before(series.FirstDate()) {
		return Chronic{}, acwrerr.NewInvalidDate(day, "date is before any recorded load")
	}

	start := day.AddDate(0, 0, -(params.ChronicPeriodDays - 1))
	if start.Before(series.FirstDate()) {
		start = series.FirstDate()
	}

	var (
		weightSum   float64
		externalSum float64
		internalSum float64
		lookback    int
		samples     int
	)
	for d := day; !d.Before(start); d = d.AddDate(0, 0, -1) {
		w := Weight(params.DecayRate, lookback)
		weightSum += w
		if dl, ok := series.load(d); ok {
			externalSum += dl.external * w
			internalSum += dl.internal * w
			samples++
		}
		lookback++
	}
	if samples == 0 {
		return Chronic{}, ErrNoSamplesInWindow
	}

	return Chronic{
		Load:            externalSum / weightSum,
		TRIMP:           internalSum / weightSum,
		LookbackDays:    lookback,
		SamplesInWindow: samples,
		DataSufficiency: float64(lookback) / float64(params.ChronicPeriodDays),
	}, nil
}

// AcuteLoad is the plain 7-day average ending on asOf, zero-filled.
func AcuteLoad(series *Series, asOf time.Time) (external, internal float64) {
	day := Day(asOf)
	for i := 0; i < AcuteWindowDays; i++ {
		if dl, ok := series.load(day.AddDate(0, 0, -i)); ok {
			external += dl.external
			internal += dl.internal
		}
	}
	return external / AcuteWindowDays, internal / AcuteWindowDays
}
