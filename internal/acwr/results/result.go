package results

import (
	"fmt"
	"math"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
)

// Key identifies one enhanced calculation row.
type Key struct {
	UserID          int64     `json:"userId"`
	Date            time.Time `json:"date"`
	ConfigurationID int64     `json:"configurationId"`
}

func NewKey(userID int64, date time.Time, configurationID int64) Key {
	return Key{
		UserID:          userID,
		Date:            calc.Day(date),
		ConfigurationID: configurationID,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%d", k.UserID, k.Date.Format(time.DateOnly), k.ConfigurationID)
}

// Result is a persisted evaluation of one user-day under one configuration.
type Result struct {
	UserID               int64     `json:"userId"`
	Date                 time.Time `json:"activityDate"`
	ConfigurationID      int64     `json:"configurationId"`
	ChronicPeriodDays    int       `json:"chronicPeriodDays"`
	DecayRate            float64   `json:"decayRate"`
	AcuteLoad            float64   `json:"acuteLoad"`
	AcuteTRIMP           float64   `json:"acuteTrimp"`
	ChronicLoad          float64   `json:"chronicLoad"`
	ChronicTRIMP         float64   `json:"chronicTrimp"`
	ACWR                 float64   `json:"acuteChronicRatio"`
	TrimpACWR            *float64  `json:"trimpAcuteChronicRatio"`
	NormalizedDivergence *float64  `json:"normalizedDivergence"`
	DataSufficiency      float64   `json:"dataSufficiency"`
	CalculatedAt         time.Time `json:"calculatedAt"`
}

func FromMetrics(userID, configurationID int64, m *calc.Metrics, calculatedAt time.Time) Result {
	return Result{
		UserID:               userID,
		Date:                 calc.Day(m.AsOf),
		ConfigurationID:      configurationID,
		ChronicPeriodDays:    m.Params.ChronicPeriodDays,
		DecayRate:            m.Params.DecayRate,
		AcuteLoad:            m.AcuteLoad,
		AcuteTRIMP:           m.AcuteTRIMP,
		ChronicLoad:          m.ChronicLoad,
		ChronicTRIMP:         m.ChronicTRIMP,
		ACWR:                 m.ACWR,
		TrimpACWR:            cloneFloat(m.TrimpACWR),
		NormalizedDivergence: cloneFloat(m.NormalizedDivergence),
		DataSufficiency:      m.DataSufficiency,
		// postgres keeps microseconds
		CalculatedAt: calculatedAt.UTC().Truncate(time.Microsecond),
	}
}

func (r Result) Key() Key {
	return NewKey(r.UserID, r.Date, r.ConfigurationID)
}

func (r Result) Params() calc.Params {
	return calc.Params{
		ChronicPeriodDays: r.ChronicPeriodDays,
		DecayRate:         r.DecayRate,
	}
}

// LookbackDays recovers the chronic window length actually covered.
func (r Result) LookbackDays() int {
	return int(math.Round(r.DataSufficiency * float64(r.ChronicPeriodDays)))
}

// Equal compares every stored column exactly.
func (r Result) Equal(o Result) bool {
	return r.Key() == o.Key() &&
		r.ChronicPeriodDays == o.ChronicPeriodDays &&
		r.DecayRate == o.DecayRate &&
		r.AcuteLoad == o.AcuteLoad &&
		r.AcuteTRIMP == o.AcuteTRIMP &&
		r.ChronicLoad == o.ChronicLoad &&
		r.ChronicTRIMP == o.ChronicTRIMP &&
		r.ACWR == o.ACWR &&
		equalFloat(r.TrimpACWR, o.TrimpACWR) &&
		equalFloat(r.NormalizedDivergence, o.NormalizedDivergence) &&
		r.DataSufficiency == o.DataSufficiency &&
		r.CalculatedAt.Equal(o.CalculatedAt)
}

// MetricsDiff lists the metric columns of r that differ from o by more than
// tolerance. Bookkeeping columns are ignored.
func (r Result) MetricsDiff(o Result, tolerance float64) []string {
	var diffs []string
	check := func(name string, a, b float64) {
		if math.Abs(a-b) > tolerance || math.IsNaN(a) != math.IsNaN(b) {
			diffs = append(diffs, fmt.Sprintf("%s %v != %v", name, a, b))
		}
	}
	checkNullable := func(name string, a, b *float64) {
		switch {
		case a == nil && b == nil:
		case a == nil || b == nil:
			diffs = append(diffs, fmt.Sprintf("%s %s != %s", name, formatFloat(a), formatFloat(b)))
		default:
			check(name, *a, *b)
		}
	}
	check("acute_load", r.AcuteLoad, o.AcuteLoad)
	check("acute_trimp", r.AcuteTRIMP, o.AcuteTRIMP)
	check("chronic_load", r.ChronicLoad, o.ChronicLoad)
	check("chronic_trimp", r.ChronicTRIMP, o.ChronicTRIMP)
	check("acute_chronic_ratio", r.ACWR, o.ACWR)
	checkNullable("trimp_acute_chronic_ratio", r.TrimpACWR, o.TrimpACWR)
	checkNullable("normalized_divergence", r.NormalizedDivergence, o.NormalizedDivergence)
	check("data_sufficiency", r.DataSufficiency, o.DataSufficiency)
	return diffs
}

// Index maps rows by their key string.
func Index(rows []Result) map[string]Result {
	idx := make(map[string]Result, len(rows))
	for _, r := range rows {
		idx[r.Key().String()] = r
	}
	return idx
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatFloat(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(*v)
}
