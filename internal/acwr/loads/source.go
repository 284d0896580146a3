package loads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
)

// Source assembles calc.Series values from the sample store.
type Source struct {
	store Store
	now   func() time.Time
}

func NewSource(store Store, now func() time.Time) *Source {
	if now == nil {
		now = time.Now
	}
	return &Source{
		store: store,
		now:   now,
	}
}

// Today is the series horizon used for every series this source builds.
func (s *Source) Today() time.Time {
	return Today(s.now())
}

// SeriesRange loads everything needed to evaluate any day in [from, to] with
// a chronic window of chronicDays. A user without samples yields an empty
// series, which the calculator reports as insufficient history.
func (s *Source) SeriesRange(ctx context.Context, userID int64, from, to time.Time, chronicDays int) (*calc.Series, error) {
	from, to = calc.Day(from), calc.Day(to)
	if to.Before(from) {
		return nil, acwrerr.NewValidation("to", "must not be before from")
	}
	if chronicDays < calc.AcuteWindowDays {
		chronicDays = calc.AcuteWindowDays
	}

	opts := []calc.SeriesOption{
		calc.WithUserID(userID),
		calc.WithHorizon(s.Today()),
	}

	first, err := s.store.FirstDate(ctx, userID)
	if err != nil {
		if errors.Is(err, acwrerr.ErrNotFound) {
			return calc.NewSeries(nil, opts...), nil
		}
		return nil, fmt.Errorf("first sample of user %d: %w", userID, err)
	}
	opts = append(opts, calc.WithHistoryStart(first))

	samples, err := s.store.Samples(ctx, userID, from.AddDate(0, 0, -(chronicDays-1)), to)
	if err != nil {
		return nil, fmt.Errorf("samples of user %d: %w", userID, err)
	}

	return calc.NewSeries(samples, opts...), nil
}

// Series loads what a single as-of evaluation needs.
func (s *Source) Series(ctx context.Context, userID int64, asOf time.Time, chronicDays int) (*calc.Series, error) {
	return s.SeriesRange(ctx, userID, asOf, asOf, chronicDays)
}
