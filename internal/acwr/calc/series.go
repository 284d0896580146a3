package calc

import (
	"slices"
	"time"
)

// LoadSample is one day of load for one user. ExternalLoad is the
// distance/duration derived load, InternalLoad is TRIMP.
type LoadSample struct {
	UserID       int64     `json:"userId"`
	Date         time.Time `json:"date"`
	ExternalLoad float64   `json:"externalLoad"`
	InternalLoad float64   `json:"internalLoad"`
}

// Day normalizes t to midnight UTC of the calendar day t shows in its own
// location. All series lookups are keyed by Day values.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type dayLoad struct {
	external float64
	internal float64
}

// Series is a per-user, per-day view over load samples. Days without a
// recorded sample after the history start carry zero load.
type Series struct {
	userID  int64
	days    map[time.Time]dayLoad
	dates   []time.Time
	first   time.Time
	horizon time.Time
}

type SeriesOption func(*Series)

// WithHorizon sets the last day the series knows about (ingestion "today").
// Without it the horizon is the last recorded day.
func WithHorizon(day time.Time) SeriesOption {
	return func(s *Series) {
		if !day.IsZero() {
			s.horizon = Day(day)
		}
	}
}

// WithHistoryStart sets the user's first recorded day when the samples
// handed to NewSeries are only a slice of the full history.
func WithHistoryStart(day time.Time) SeriesOption {
	return func(s *Series) {
		if day.IsZero() {
			return
		}
		day = Day(day)
		if s.first.IsZero() || day.Before(s.first) {
			s.first = day
		}
	}
}

func WithUserID(userID int64) SeriesOption {
	return func(s *Series) {
		s.userID = userID
	}
}

// NewSeries builds a series from samples of a single user. Samples for the
// same day are summed.
func NewSeries(samples []LoadSample, opts ...SeriesOption) *Series {
	s := &Series{
		days: make(map[time.Time]dayLoad, len(samples)),
	}
	for _, sample := range samples {
		day := Day(sample.Date)
		dl, seen := s.days[day]
		if !seen {
			s.dates = append(s.dates, day)
		}
		dl.external += sample.ExternalLoad
		dl.internal += sample.InternalLoad
		s.days[day] = dl
		if s.userID == 0 {
			s.userID = sample.UserID
		}
	}
	slices.SortFunc(s.dates, func(a, b time.Time) int { return a.Compare(b) })
	if len(s.dates) > 0 {
		s.first = s.dates[0]
		s.horizon = s.dates[len(s.dates)-1]
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Series) UserID() int64 { return s.userID }

// Empty reports whether the series holds no recorded samples.
func (s *Series) Empty() bool { return len(s.dates) == 0 }

func (s *Series) Len() int { return len(s.dates) }

func (s *Series) FirstDate() time.Time { return s.first }

func (s *Series) Horizon() time.Time { return s.horizon }

// Dates returns the recorded days in ascending order.
func (s *Series) Dates() []time.Time {
	return slices.Clone(s.dates)
}

// DatesBetween returns the recorded days within [from, to], ascending.
func (s *Series) DatesBetween(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	var out []time.Time
	for _, d := range s.dates {
		if d.Before(from) {
			continue
		}
		if d.After(to) {
			break
		}
		out = append(out, d)
	}
	return out
}

// Has reports whether a sample was recorded on day.
func (s *Series) Has(day time.Time) bool {
	_, ok := s.days[Day(day)]
	return ok
}

func (s *Series) load(day time.Time) (dayLoad, bool) {
	dl, ok := s.days[day]
	return dl, ok
}
