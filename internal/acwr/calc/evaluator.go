package calc

import (
	"errors"
	"math"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
)

const DivergenceEpsilon = 1e-6

type Metrics struct {
	AsOf                 time.Time `json:"asOf"`
	Params               Params    `json:"params"`
	AcuteLoad            float64   `json:"acuteLoad"`
	AcuteTRIMP           float64   `json:"acuteTrimp"`
	ChronicLoad          float64   `json:"chronicLoad"`
	ChronicTRIMP         float64   `json:"chronicTrimp"`
	ACWR                 float64   `json:"acuteChronicRatio"`
	// TrimpACWR and NormalizedDivergence are nil when the window holds no
	// internal load, e.g. for athletes training without heart rate.
	TrimpACWR            *float64  `json:"trimpAcuteChronicRatio"`
	NormalizedDivergence *float64  `json:"normalizedDivergence"`
	DataSufficiency      float64   `json:"dataSufficiency"`
	LookbackDays         int       `json:"lookbackDays"`
}

// Reliable reports whether at least four weeks of history back the ratio.
func (m *Metrics) Reliable() bool {
	return m.LookbackDays >= ReliableLookbackDays
}

func (m *Metrics) RiskZone() RiskZone {
	return RiskZoneFor(m.ACWR)
}

// DivergenceSignal is empty without internal load.
func (m *Metrics) DivergenceSignal() DivergenceSignal {
	if m.NormalizedDivergence == nil {
		return ""
	}
	return DivergenceSignalFor(*m.NormalizedDivergence)
}

// Evaluate computes acute and chronic loads, both ratios and the normalized
// divergence for asOf. Missing history surfaces as InsufficientHistoryError.
func Evaluate(series *Series, params Params, asOf time.Time) (*Metrics, error) {
	day := Day(asOf)
	chronic, err := ChronicLoad(series, params, day)
	if err != nil {
		if errors.Is(err, ErrNoSamplesInWindow) {
			return nil, &acwrerr.InsufficientHistoryError{
				UserID: seriesUser(series),
				AsOf:   day,
				Reason: err.Error(),
			}
		}
		return nil, err
	}
	if chronic.Load <= 0 {
		return nil, &acwrerr.InsufficientHistoryError{
			UserID: series.UserID(),
			AsOf:   day,
			Reason: "chronic load is zero",
		}
	}

	acuteLoad, acuteTRIMP := AcuteLoad(series, day)
	m := &Metrics{
		AsOf:            day,
		Params:          params,
		AcuteLoad:       acuteLoad,
		AcuteTRIMP:      acuteTRIMP,
		ChronicLoad:     chronic.Load,
		ChronicTRIMP:    chronic.TRIMP,
		ACWR:            acuteLoad / chronic.Load,
		DataSufficiency: chronic.DataSufficiency,
		LookbackDays:    chronic.LookbackDays,
	}
	if chronic.TRIMP > 0 {
		trimpACWR := acuteTRIMP / chronic.TRIMP
		divergence := NormalizedDivergence(m.ACWR, trimpACWR)
		m.TrimpACWR = &trimpACWR
		m.NormalizedDivergence = &divergence
	}
	return m, nil
}

// NormalizedDivergence is negative when internal load outpaces external load.
func NormalizedDivergence(acwr, trimpACWR float64) float64 {
	denom := math.Max(math.Max(acwr, trimpACWR), DivergenceEpsilon)
	return (acwr - trimpACWR) / denom
}

func seriesUser(series *Series) int64 {
	if series == nil {
		return 0
	}
	return series.UserID()
}
