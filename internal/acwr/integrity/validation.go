package integrity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

// Level is a validation strictness. Each level runs every check of the
// levels below it.
type Level string

const (
	LevelBasic    Level = "basic"
	LevelStandard Level = "standard"
	LevelStrict   Level = "strict"
	LevelParanoid Level = "paranoid"
)

var levelRank = map[Level]int{
	LevelBasic:    1,
	LevelStandard: 2,
	LevelStrict:   3,
	LevelParanoid: 4,
}

func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; !ok {
		return "", acwrerr.NewValidation("validation_level", "unknown level %q", s)
	}
	return l, nil
}

// AtLeast reports whether l includes the checks of other.
func (l Level) AtLeast(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

var statusRank = map[Status]int{
	StatusPass:    0,
	StatusWarning: 1,
	StatusFail:    2,
}

// Worse reports whether s is more severe than other.
func (s Status) Worse(other Status) bool {
	return statusRank[s] > statusRank[other]
}

type ValidationResult struct {
	Level          Level     `json:"validationLevel"`
	Status         Status    `json:"status"`
	IsValid        bool      `json:"isValid"`
	Errors         []string  `json:"errors"`
	Warnings       []string  `json:"warnings"`
	ValidatedCount int       `json:"validatedCount"`
	FailedCount    int       `json:"failedCount"`
	ValidatedAt    time.Time `json:"validatedAt"`
}

// Batch is one written migration batch, as computed by the engine.
type Batch struct {
	MigrationID     string
	BatchID         int
	ConfigurationID int64
	Params          calc.Params
	// Expected holds the rows the batch wrote.
	Expected        []results.Result
}

// Keys of the rows the batch wrote.
func (b Batch) Keys() []results.Key {
	keys := make([]results.Key, len(b.Expected))
	for i, r := range b.Expected {
		keys[i] = r.Key()
	}
	return keys
}

const (
	DefaultWarningFailureRatio = 0.05
	DefaultStrictSampleSize    = 25
	DefaultParanoidTimeout     = 2 * time.Minute
	DefaultTolerance           = 1e-9

	maxRatio = 10.0
	// keep reports readable for big batches
	maxReportedProblems = 50
)

type ValidatorOptions struct {
	WarningFailureRatio float64
	StrictSampleSize    int
	ParanoidTimeout     time.Duration
	Tolerance           float64
}

func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		WarningFailureRatio: DefaultWarningFailureRatio,
		StrictSampleSize:    DefaultStrictSampleSize,
		ParanoidTimeout:     DefaultParanoidTimeout,
		Tolerance:           DefaultTolerance,
	}
}

type seriesSource interface {
	SeriesRange(ctx context.Context, userID int64, from, to time.Time, chronicDays int) (*calc.Series, error)
}

// Validator checks written batches against the stored rows and, for the
// stricter levels, against a fresh derivation from the raw load samples.
type Validator struct {
	store          results.Store
	source         seriesSource
	opts           ValidatorOptions
	metricsManager *metrics.Manager
	now            func() time.Time
}

func NewValidator(store results.Store, source seriesSource, opts ValidatorOptions, metricsManager *metrics.Manager) *Validator {
	def := DefaultValidatorOptions()
	if opts.WarningFailureRatio <= 0 {
		opts.WarningFailureRatio = def.WarningFailureRatio
	}
	if opts.StrictSampleSize <= 0 {
		opts.StrictSampleSize = def.StrictSampleSize
	}
	if opts.ParanoidTimeout <= 0 {
		opts.ParanoidTimeout = def.ParanoidTimeout
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	return &Validator{
		store:          store,
		source:         source,
		opts:           opts,
		metricsManager: metricsManager,
		now:            time.Now,
	}
}

type report struct {
	structural []string
	failedRows map[string][]string
	warnings   []string
}

func (r *report) rowFailure(key results.Key, format string, args ...any) {
	k := key.String()
	r.failedRows[k] = append(r.failedRows[k], fmt.Sprintf(format, args...))
}

// Validate runs every check of level against the batch. Only infrastructure
// problems are returned as errors; findings go into the result.
func (v *Validator) Validate(ctx context.Context, level Level, batch Batch) (_ *ValidationResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "integrity.validate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("level", string(level)),
		attribute.String("migration_id", batch.MigrationID),
		attribute.Int("batch_id", batch.BatchID),
	)

	if _, ok := levelRank[level]; !ok {
		return nil, acwrerr.NewValidation("validation_level", "unknown level %q", level)
	}

	started := time.Now()
	defer func() {
		if v.metricsManager != nil {
			v.metricsManager.HistValidationDuration.WithLabelValues(string(level)).Observe(time.Since(started).Seconds())
		}
	}()

	rep := &report{failedRows: map[string][]string{}}

	stored, err := v.store.Get(ctx, batch.Keys())
	if err != nil {
		return nil, fmt.Errorf("read back batch %d: %w", batch.BatchID, err)
	}

	v.checkBasic(batch, stored, rep)
	if level.AtLeast(LevelStandard) {
		v.checkStandard(stored, rep)
	}
	switch level {
	case LevelStrict:
		if err := v.checkDerived(ctx, batch, sample(stored, v.opts.StrictSampleSize), rep); err != nil {
			return nil, err
		}
	case LevelParanoid:
		paranoidCtx, cancel := context.WithTimeout(ctx, v.opts.ParanoidTimeout)
		err := v.checkDerived(paranoidCtx, batch, stored, rep)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil, err
			}
			rep.structural = append(rep.structural, fmt.Sprintf("paranoid validation timed out after %s", v.opts.ParanoidTimeout))
		}
	}

	res := v.result(level, len(stored), rep)
	if v.metricsManager != nil {
		v.metricsManager.CounterValidations.WithLabelValues(string(level), string(res.Status)).Inc()
	}
	log.Debugf("migration %s batch %d validated at %s: %s (%d/%d failed)",
		batch.MigrationID, batch.BatchID, level, res.Status, res.FailedCount, res.ValidatedCount)

	return res, nil
}

func (v *Validator) checkBasic(batch Batch, stored []results.Result, rep *report) {
	if len(stored) != len(batch.Expected) {
		rep.structural = append(rep.structural,
			fmt.Sprintf("row count mismatch: wrote %d, found %d", len(batch.Expected), len(stored)))
	}
	for _, r := range stored {
		if r.ConfigurationID != batch.ConfigurationID {
			rep.rowFailure(r.Key(), "configuration %d, expected %d", r.ConfigurationID, batch.ConfigurationID)
		}
		if r.Params() != batch.Params {
			rep.rowFailure(r.Key(), "parameters %+v, expected %+v", r.Params(), batch.Params)
		}
		if !finite(r.ACWR) || !finiteOrNull(r.TrimpACWR) || !finiteOrNull(r.NormalizedDivergence) {
			rep.rowFailure(r.Key(), "non-finite ratio")
		}
		// the internal ratios may only be null when there is no internal load
		if r.ChronicTRIMP > 0 && (r.TrimpACWR == nil || r.NormalizedDivergence == nil) {
			rep.rowFailure(r.Key(), "null ratio with chronic_trimp %v", r.ChronicTRIMP)
		}
	}
}

func (v *Validator) checkStandard(stored []results.Result, rep *report) {
	for _, r := range stored {
		k := r.Key()
		if finite(r.ACWR) && (r.ACWR < 0 || r.ACWR > maxRatio) {
			rep.rowFailure(k, "acute_chronic_ratio %v outside [0, %v]", r.ACWR, maxRatio)
		}
		if tr := r.TrimpACWR; tr != nil && finite(*tr) && (*tr < 0 || *tr > maxRatio) {
			rep.rowFailure(k, "trimp_acute_chronic_ratio %v outside [0, %v]", *tr, maxRatio)
		}
		if r.ChronicLoad < 0 {
			rep.rowFailure(k, "negative chronic_load %v", r.ChronicLoad)
		}
		if r.ChronicTRIMP < 0 {
			rep.rowFailure(k, "negative chronic_trimp %v", r.ChronicTRIMP)
		}
		if nd := r.NormalizedDivergence; nd != nil && finite(*nd) && (*nd < -1 || *nd > 1) {
			rep.rowFailure(k, "normalized_divergence %v outside [-1, 1]", *nd)
		}
		if r.DataSufficiency < 0 || r.DataSufficiency > 1 {
			rep.warnings = append(rep.warnings, fmt.Sprintf("%s: data_sufficiency %v outside [0, 1]", k, r.DataSufficiency))
		}
	}
}

// checkDerived recomputes rows from the raw load samples.
func (v *Validator) checkDerived(ctx context.Context, batch Batch, rows []results.Result, rep *report) error {
	byUser := map[int64][]results.Result{}
	var users []int64
	for _, r := range rows {
		if _, ok := byUser[r.UserID]; !ok {
			users = append(users, r.UserID)
		}
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	for _, userID := range users {
		userRows := byUser[userID]
		from, to := userRows[0].Date, userRows[0].Date
		for _, r := range userRows {
			if r.Date.Before(from) {
				from = r.Date
			}
			if r.Date.After(to) {
				to = r.Date
			}
		}

		series, err := v.source.SeriesRange(ctx, userID, from, to, batch.Params.ChronicPeriodDays)
		if err != nil {
			return fmt.Errorf("load series of user %d: %w", userID, err)
		}

		for _, r := range userRows {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := calc.Evaluate(series, batch.Params, r.Date)
			if err != nil {
				rep.rowFailure(r.Key(), "re-derivation failed: %s", err)
				continue
			}
			derived := results.FromMetrics(r.UserID, r.ConfigurationID, m, r.CalculatedAt)
			if diffs := r.MetricsDiff(derived, v.opts.Tolerance); len(diffs) > 0 {
				rep.rowFailure(r.Key(), "re-derived values differ: %s", strings.Join(diffs, ", "))
			}
		}
	}
	return nil
}

func (v *Validator) result(level Level, validated int, rep *report) *ValidationResult {
	res := &ValidationResult{
		Level:          level,
		ValidatedCount: validated,
		FailedCount:    len(rep.failedRows),
		Errors:         append([]string{}, rep.structural...),
		Warnings:       append([]string{}, rep.warnings...),
		ValidatedAt:    v.now().UTC().Truncate(time.Microsecond),
	}

	keys := make([]string, 0, len(rep.failedRows))
	for k := range rep.failedRows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rowProblems := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(rowProblems) == maxReportedProblems {
			rowProblems = append(rowProblems, fmt.Sprintf("... and %d more", len(keys)-maxReportedProblems))
			break
		}
		rowProblems = append(rowProblems, k+": "+strings.Join(rep.failedRows[k], "; "))
	}

	switch {
	case len(rep.structural) > 0:
		res.Status = StatusFail
		res.Errors = append(res.Errors, rowProblems...)
	case res.FailedCount == 0:
		res.Status = StatusPass
	case level.AtLeast(LevelStrict):
		res.Status = StatusFail
		res.Errors = append(res.Errors, rowProblems...)
	case float64(res.FailedCount) <= v.opts.WarningFailureRatio*float64(max(validated, 1)):
		res.Status = StatusPass
		res.Warnings = append(res.Warnings, rowProblems...)
	default:
		res.Status = StatusWarning
		res.Warnings = append(res.Warnings, rowProblems...)
	}
	res.IsValid = res.Status != StatusFail

	return res
}

// sample picks n rows at a fixed stride, always including the last row.
func sample(rows []results.Result, n int) []results.Result {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	if n == 1 {
		return rows[len(rows)-1:]
	}
	out := make([]results.Result, 0, n)
	stride := float64(len(rows)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, rows[int(math.Round(float64(i)*stride))])
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteOrNull(f *float64) bool {
	return f == nil || finite(*f)
}
