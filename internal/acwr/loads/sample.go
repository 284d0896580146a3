package loads

import (
	"math"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
)

// Latest timezone offset in use; a local calendar day can run this far
// ahead of UTC.
const maxZoneAhead = 14 * time.Hour

// Today is the last calendar day that can legitimately carry load.
func Today(now time.Time) time.Time {
	return calc.Day(now.UTC().Add(maxZoneAhead))
}

func ValidateSample(s calc.LoadSample, today time.Time) error {
	if s.UserID <= 0 {
		return acwrerr.NewValidation("user_id", "must be positive, got %d", s.UserID)
	}
	if s.Date.IsZero() {
		return acwrerr.NewValidation("date", "missing")
	}
	if calc.Day(s.Date).After(today) {
		return acwrerr.NewInvalidDate(calc.Day(s.Date), "load sample is in the future")
	}
	if !validLoad(s.ExternalLoad) {
		return acwrerr.NewValidation("external_load", "must be a finite non-negative number, got %v", s.ExternalLoad)
	}
	if !validLoad(s.InternalLoad) {
		return acwrerr.NewValidation("internal_load", "must be a finite non-negative number, got %v", s.InternalLoad)
	}
	return nil
}

func validLoad(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
