package migration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

type workItem struct {
	userID int64
	date   time.Time
}

// Outcome is the result of recomputing one work item: a row to write, a
// skip for missing history, or a CalculationFailure.
type Outcome struct {
	Key    results.Key
	Result *results.Result
	Err    error
}

func (o Outcome) Skipped() bool {
	return errors.Is(o.Err, acwrerr.ErrInsufficientHistory)
}

func (o Outcome) label() string {
	switch {
	case o.Err == nil:
		return "success"
	case o.Skipped():
		return "skipped"
	default:
		return "failed"
	}
}

func (e *Engine) execute(ctx context.Context, r *run, m *Migration) {
	storeCtx := context.WithoutCancel(ctx)
	if e.metricsManager != nil {
		e.metricsManager.GaugeRunningMigrations.Inc()
		defer e.metricsManager.GaugeRunningMigrations.Dec()
	}

	status, cause := e.process(ctx, storeCtx, r, m)

	e.mu.Lock()
	r.stopping = true
	e.mu.Unlock()

	e.releaseUsers(storeCtx, m.ID, r.users)
	e.finish(storeCtx, r, m, status, cause)
}

// finish persists the final state of a run and unregisters it.
func (e *Engine) finish(ctx context.Context, r *run, m *Migration, status Status, cause error) {
	e.mu.Lock()
	// a cancel that arrived during the last batch still ends the run
	// cancelled, even though every batch was written
	if r.cancelRequested && (status == StatusPaused || status == StatusCompleted) {
		status = StatusCancelled
	}
	m.Status = status
	if cause != nil {
		m.Error = cause.Error()
	}
	if status.Terminal() {
		completed := e.timestamp()
		m.CompletedAt = &completed
	}
	if err := e.persist(ctx, m); err != nil {
		log.Errorf("migration %s: %s", m.ID, err)
	}
	delete(e.runs, r.id)
	e.mu.Unlock()

	switch {
	case status == StatusFailed:
		log.Errorf("migration %s failed after batch %d: %s", m.ID, m.CurrentBatch, cause)
	default:
		log.Infof("migration %s %s after batch %d/%d", m.ID, status, m.CurrentBatch, m.TotalBatches)
	}
	message := string(status)
	if cause != nil {
		message = cause.Error()
	}
	e.emitStatus(ctx, m, message)
}

// next reports whether the run may start another batch, or the status it
// should stop with.
func (e *Engine) next(ctx context.Context, r *run) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case r.cancelRequested:
		return StatusCancelled, false
	case r.pauseRequested:
		return StatusPaused, false
	case ctx.Err() != nil:
		// engine shutdown
		return StatusPaused, false
	}
	return "", true
}

func (e *Engine) process(ctx, storeCtx context.Context, r *run, m *Migration) (Status, error) {
	m.Status = StatusRunning
	m.Error = ""
	if err := e.persist(storeCtx, m); err != nil {
		return StatusFailed, err
	}
	e.emitStatus(storeCtx, m, "running")

	cfg, err := e.configs.Get(storeCtx, m.ConfigurationID)
	if err != nil {
		return StatusFailed, fmt.Errorf("load configuration: %w", err)
	}

	items, series, err := e.plan(ctx, m, r.users, cfg.Params())
	if err != nil {
		if ctx.Err() != nil {
			return StatusPaused, nil
		}
		return StatusFailed, fmt.Errorf("plan: %w", err)
	}

	batches := chunk(items, m.BatchSize)
	m.TotalBatches = m.CurrentBatch + len(batches)
	if err := e.persist(storeCtx, m); err != nil {
		return StatusFailed, err
	}

	for _, batch := range batches {
		if status, ok := e.next(ctx, r); !ok {
			return status, nil
		}
		if err := e.refreshUsers(storeCtx, m.ID, r.users); err != nil {
			return StatusFailed, err
		}

		batchID := m.CurrentBatch + 1
		br, err := e.runBatch(storeCtx, m, cfg, batchID, batch, series)
		if br != nil {
			m.BatchResults = append(m.BatchResults, *br)
			m.ProcessedActivities += br.Items
			m.SuccessfulCalculations += br.Successful
			m.FailedCalculations += br.Failed
			m.SkippedCalculations += br.Skipped
		}
		if err != nil {
			return StatusFailed, err
		}

		last := batch[len(batch)-1]
		m.CurrentBatch = batchID
		m.Cursor = &Cursor{UserID: last.userID, Date: last.date}
		if err := e.persist(storeCtx, m); err != nil {
			return StatusFailed, err
		}
		if e.invalidator != nil {
			e.invalidator.Invalidate(storeCtx, batchUsers(batch)...)
		}

		event := ProgressEvent{
			MigrationID:         m.ID,
			Status:              m.Status,
			BatchID:             batchID,
			CurrentBatch:        m.CurrentBatch,
			TotalBatches:        m.TotalBatches,
			ProcessedActivities: m.ProcessedActivities,
			Successful:          br.Successful,
			Failed:              br.Failed,
			Skipped:             br.Skipped,
			Duration:            time.Duration(br.DurationMs) * time.Millisecond,
			Time:                br.CompletedAt,
		}
		if br.Validation != nil {
			event.ValidationStatus = br.Validation.Status
		}
		e.sink.Emit(storeCtx, event)
	}

	return StatusCompleted, nil
}

// plan loads the series of every user and lists the recorded days in the
// migration range, ordered by user then date, skipping what the cursor
// already covers.
func (e *Engine) plan(ctx context.Context, m *Migration, users []int64, params calc.Params) (_ []workItem, _ map[int64]*calc.Series, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "migration.plan")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("migration_id", m.ID),
		attribute.Int("users", len(users)),
	)

	pending := make([]int64, 0, len(users))
	for _, userID := range users {
		if m.Cursor != nil && userID < m.Cursor.UserID {
			continue
		}
		pending = append(pending, userID)
	}

	var mu sync.Mutex
	series := make(map[int64]*calc.Series, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentSeriesLoads)
	for _, userID := range pending {
		g.Go(func() error {
			s, err := e.source.SeriesRange(gctx, userID, m.From, m.To, params.ChronicPeriodDays)
			if err != nil {
				return fmt.Errorf("load series of user %d: %w", userID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			series[userID] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var items []workItem
	for _, userID := range pending {
		for _, d := range series[userID].DatesBetween(m.From, m.To) {
			if m.Cursor.covers(userID, d) {
				continue
			}
			items = append(items, workItem{userID: userID, date: d})
		}
	}
	return items, series, nil
}

// runBatch is the unit that is never interrupted: recompute, checkpoint,
// write, validate.
func (e *Engine) runBatch(ctx context.Context, m *Migration, cfg *configs.Configuration, batchID int, items []workItem, series map[int64]*calc.Series) (_ *BatchResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "migration.batch")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("migration_id", m.ID),
		attribute.Int("batch_id", batchID),
		attribute.Int("items", len(items)),
	)

	start := e.now()
	params := cfg.Params()
	br := &BatchResult{
		BatchID: batchID,
		Items:   len(items),
	}

	outcomes := e.compute(cfg.ID, params, items, series)
	var rows []results.Result
	var keys []results.Key
	for _, o := range outcomes {
		if e.metricsManager != nil {
			e.metricsManager.CounterCalculations.WithLabelValues(o.label()).Inc()
		}
		switch {
		case o.Err == nil:
			br.Successful++
			rows = append(rows, *o.Result)
			keys = append(keys, o.Key)
		case o.Skipped():
			br.Skipped++
		default:
			br.Failed++
			if len(br.Failures) < maxFailuresPerBatch {
				br.Failures = append(br.Failures, o.Err.Error())
			}
		}
	}

	finish := func() {
		br.CompletedAt = e.timestamp()
		br.DurationMs = e.now().Sub(start).Milliseconds()
	}

	if len(rows) == 0 {
		finish()
		return br, nil
	}

	if _, err := e.checkpoints.Checkpoint(ctx, m.ID, batchID, cfg.ID, keys); err != nil {
		finish()
		return br, fmt.Errorf("checkpoint batch %d: %w", batchID, err)
	}
	if _, err := e.results.Upsert(ctx, rows); err != nil {
		finish()
		return br, fmt.Errorf("write batch %d: %w", batchID, err)
	}

	v, err := e.validator.Validate(ctx, m.ValidationLevel, integrity.Batch{
		MigrationID:     m.ID,
		BatchID:         batchID,
		ConfigurationID: cfg.ID,
		Params:          params,
		Expected:        rows,
	})
	if err != nil {
		finish()
		return br, fmt.Errorf("validate batch %d: %w", batchID, err)
	}
	br.Validation = v
	if err := e.checkpoints.RecordValidation(ctx, m.ID, batchID, *v); err != nil {
		finish()
		return br, fmt.Errorf("record validation of batch %d: %w", batchID, err)
	}
	finish()

	if v.Status == integrity.StatusFail {
		return br, &acwrerr.ValidationFailure{
			MigrationID: m.ID,
			BatchID:     batchID,
			Level:       string(v.Level),
			Errors:      v.Errors,
		}
	}
	if v.Status == integrity.StatusWarning {
		log.Warnf("migration %s batch %d validated with warnings: %v", m.ID, batchID, v.Warnings)
	}
	return br, nil
}

func (e *Engine) compute(configurationID int64, params calc.Params, items []workItem, series map[int64]*calc.Series) []Outcome {
	calculatedAt := e.now()
	outcomes := make([]Outcome, len(items))
	for i, it := range items {
		o := Outcome{Key: results.NewKey(it.userID, it.date, configurationID)}
		metrics, err := calc.Evaluate(series[it.userID], params, it.date)
		switch {
		case err == nil:
			res := results.FromMetrics(it.userID, configurationID, metrics, calculatedAt)
			o.Result = &res
		case errors.Is(err, acwrerr.ErrInsufficientHistory):
			o.Err = err
		default:
			o.Err = &acwrerr.CalculationFailure{UserID: it.userID, Date: it.date, Err: err}
		}
		outcomes[i] = o
	}
	return outcomes
}

func chunk(items []workItem, size int) [][]workItem {
	var out [][]workItem
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

func batchUsers(items []workItem) []int64 {
	var users []int64
	for _, it := range items {
		if !slices.Contains(users, it.userID) {
			users = append(users, it.userID)
		}
	}
	return users
}
