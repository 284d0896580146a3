package migration

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

type configReader interface {
	Get(ctx context.Context, id int64) (*configs.Configuration, error)
	UsersOnConfiguration(ctx context.Context, id int64) ([]int64, error)
}

type seriesLoader interface {
	SeriesRange(ctx context.Context, userID int64, from, to time.Time, chronicDays int) (*calc.Series, error)
}

type checkpointer interface {
	Checkpoint(ctx context.Context, migrationID string, batchID int, configurationID int64, keys []results.Key) ([]integrity.Checkpoint, error)
	RecordValidation(ctx context.Context, migrationID string, batchID int, v integrity.ValidationResult) error
}

type batchValidator interface {
	Validate(ctx context.Context, level integrity.Level, batch integrity.Batch) (*integrity.ValidationResult, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

type Options struct {
	DefaultBatchSize         int
	DefaultValidationLevel   integrity.Level
	MaxConcurrentSeriesLoads int
	LockTTL                  time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultBatchSize:         DefaultBatchSize,
		DefaultValidationLevel:   integrity.LevelStandard,
		MaxConcurrentSeriesLoads: 4,
		LockTTL:                  DefaultLockTTL,
	}
}

// run is the in-memory side of an executing migration. Its flags are
// guarded by Engine.mu and read between batches.
type run struct {
	id              string
	users           []int64
	pauseRequested  bool
	cancelRequested bool
	stopping        bool
	done            chan struct{}
}

// Engine recalculates stored results in batches on background goroutines,
// one per migration.
type Engine struct {
	store          Store
	configs        configReader
	source         seriesLoader
	results        results.Store
	checkpoints    checkpointer
	validator      batchValidator
	locker         Locker
	sink           ProgressSink
	invalidator    cacheInvalidator
	metricsManager *metrics.Manager
	now            func() time.Time
	opts           Options

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	runs        map[string]*run
	rollingBack map[string]bool
}

var _ integrity.MigrationGuard = (*Engine)(nil)

type NewEngineParams struct {
	Store          Store
	Configs        configReader
	Source         seriesLoader
	Results        results.Store
	Checkpoints    checkpointer
	Validator      batchValidator
	Locker         Locker
	Sink           ProgressSink // optional
	Invalidator    cacheInvalidator // optional
	MetricsManager *metrics.Manager
	Now            func() time.Time
	Options        Options
}

func NewEngine(params NewEngineParams) *Engine {
	def := DefaultOptions()
	opts := params.Options
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = def.DefaultBatchSize
	}
	if opts.DefaultValidationLevel == "" {
		opts.DefaultValidationLevel = def.DefaultValidationLevel
	}
	if opts.MaxConcurrentSeriesLoads <= 0 {
		opts.MaxConcurrentSeriesLoads = def.MaxConcurrentSeriesLoads
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = def.LockTTL
	}

	now := params.Now
	if now == nil {
		now = time.Now
	}
	sink := params.Sink
	if sink == nil {
		sink = LogSink{}
	}
	locker := params.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Engine{
		store:          params.Store,
		configs:        params.Configs,
		source:         params.Source,
		results:        params.Results,
		checkpoints:    params.Checkpoints,
		validator:      params.Validator,
		locker:         locker,
		sink:           sink,
		invalidator:    params.Invalidator,
		metricsManager: params.MetricsManager,
		now:            now,
		opts:           opts,
		baseCtx:        baseCtx,
		baseCancel:     baseCancel,
		runs:           map[string]*run{},
		rollingBack:    map[string]bool{},
	}
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// StartMigration persists a new migration and starts it in the background.
func (e *Engine) StartMigration(ctx context.Context, req Request) (_ *Migration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "migration.start")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if req.BatchSize == 0 {
		req.BatchSize = e.opts.DefaultBatchSize
	}
	if err := req.normalize(e.opts.DefaultValidationLevel); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("configuration_id", req.ConfigurationID),
		attribute.Int64("user_id", req.UserID),
		attribute.Bool("all", req.All),
	)

	cfg, err := e.configs.Get(ctx, req.ConfigurationID)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return nil, acwrerr.NewConflict("configuration %d is inactive", cfg.ID)
	}

	now := e.timestamp()
	m := &Migration{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		All:             req.All,
		ConfigurationID: req.ConfigurationID,
		From:            req.From,
		To:              req.To,
		BatchSize:       req.BatchSize,
		ValidationLevel: req.ValidationLevel,
		Status:          StatusPending,
		BatchResults:    []BatchResult{},
		StartedBy:       req.StartedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(attribute.String("migration_id", m.ID))

	e.mu.Lock()
	defer e.mu.Unlock()

	users, err := e.usersFor(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := e.lockUsers(ctx, m.ID, users); err != nil {
		return nil, err
	}
	if err := e.store.CreateMigration(ctx, m); err != nil {
		e.releaseUsers(context.WithoutCancel(ctx), m.ID, users)
		return nil, fmt.Errorf("create migration: %w", err)
	}

	log.Infof("migration %s started by %s: configuration %d, %d user(s), %s..%s",
		m.ID, m.StartedBy, m.ConfigurationID, len(users),
		m.From.Format(time.DateOnly), m.To.Format(time.DateOnly))
	e.launch(m, users)

	return m.Clone(), nil
}

// Pause asks a running migration to stop after its current batch.
func (e *Engine) Pause(ctx context.Context, id string) (*Migration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.runs[id]; ok {
		if !r.stopping {
			r.pauseRequested = true
		}
		return e.store.GetMigration(ctx, id)
	}

	m, err := e.store.GetMigration(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() || m.Status == StatusPaused {
		return m, nil
	}
	// running or pending without a goroutine: left over from a crash
	m.Status = StatusPaused
	if err := e.persist(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Resume restarts a paused migration at its next unprocessed batch.
func (e *Engine) Resume(ctx context.Context, id string) (*Migration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.runs[id]; ok {
		if r.stopping {
			return nil, acwrerr.NewConflict("migration %s is stopping, retry once it has paused", id)
		}
		r.pauseRequested = false
		return e.store.GetMigration(ctx, id)
	}

	m, err := e.store.GetMigration(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return m, nil
	}
	if m.Frozen {
		return nil, acwrerr.NewConflict("migration %s is frozen: %s", id, m.FrozenReason)
	}
	if e.rollingBack[id] {
		return nil, acwrerr.NewConflict("migration %s is being rolled back", id)
	}

	users, err := e.usersFor(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := e.lockUsers(ctx, m.ID, users); err != nil {
		return nil, err
	}

	log.Infof("migration %s resumed after batch %d", m.ID, m.CurrentBatch)
	e.launch(m, users)

	return m.Clone(), nil
}

// Cancel stops a migration for good. A running batch finishes first.
func (e *Engine) Cancel(ctx context.Context, id string) (*Migration, error) {
	m, cancelled, err := e.cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if cancelled {
		e.emitStatus(ctx, m, "cancelled")
	}
	return m, nil
}

func (e *Engine) cancel(ctx context.Context, id string) (*Migration, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.runs[id]; ok {
		r.cancelRequested = true
		m, err := e.store.GetMigration(ctx, id)
		return m, false, err
	}

	m, err := e.store.GetMigration(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if m.Status.Terminal() {
		return m, false, nil
	}
	m.Status = StatusCancelled
	completed := e.timestamp()
	m.CompletedAt = &completed
	if err := e.persist(ctx, m); err != nil {
		return nil, false, err
	}
	log.Infof("migration %s cancelled", id)
	return m, true, nil
}

// Unfreeze clears the freeze left by a failed rollback verification.
func (e *Engine) Unfreeze(ctx context.Context, id, clearedBy string) (*Migration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMigration(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Frozen {
		return m, nil
	}
	reason := m.FrozenReason
	m.Frozen = false
	m.FrozenReason = ""
	if err := e.persist(ctx, m); err != nil {
		return nil, err
	}
	log.Warnf("migration %s unfrozen by %s (was: %s)", id, clearedBy, reason)
	return m, nil
}

// Freeze blocks resume and rollback of the migration until Unfreeze.
func (e *Engine) Freeze(ctx context.Context, id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMigration(ctx, id)
	if err != nil {
		return err
	}
	m.Frozen = true
	m.FrozenReason = reason
	if err := e.persist(ctx, m); err != nil {
		return err
	}
	log.Errorf("migration %s frozen: %s", id, reason)
	return nil
}

// BeginRollback reserves the migration for a rollback. The migration must
// not be running or frozen, and resume is refused until release is called.
func (e *Engine) BeginRollback(ctx context.Context, id string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.runs[id]; ok {
		return nil, acwrerr.NewConflict("migration %s is running", id)
	}
	if e.rollingBack[id] {
		return nil, acwrerr.NewConflict("migration %s is already being rolled back", id)
	}
	m, err := e.store.GetMigration(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusRunning || m.Status == StatusPending {
		return nil, acwrerr.NewConflict("migration %s is %s", id, m.Status)
	}
	if m.Frozen {
		return nil, acwrerr.NewConflict("migration %s is frozen: %s", id, m.FrozenReason)
	}

	e.rollingBack[id] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.rollingBack, id)
		})
	}, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*Migration, error) {
	return e.store.GetMigration(ctx, id)
}

// List returns migrations, newest first. An empty status lists all.
func (e *Engine) List(ctx context.Context, status Status) ([]Migration, error) {
	return e.store.ListMigrations(ctx, status)
}

// Wait blocks until the migration's goroutine, if any, has stopped.
func (e *Engine) Wait(ctx context.Context, id string) (*Migration, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()

	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.store.GetMigration(ctx, id)
}

// Recover marks migrations that were running when the process died as
// paused, so an operator can resume them. It returns their ids.
func (e *Engine) Recover(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var recovered []string
	for _, status := range []Status{StatusPending, StatusRunning} {
		list, err := e.store.ListMigrations(ctx, status)
		if err != nil {
			return recovered, fmt.Errorf("list %s migrations: %w", status, err)
		}
		for i := range list {
			m := &list[i]
			if _, ok := e.runs[m.ID]; ok {
				continue
			}
			m.Status = StatusPaused
			m.Error = "interrupted by restart"
			if err := e.persist(ctx, m); err != nil {
				return recovered, err
			}
			recovered = append(recovered, m.ID)
		}
	}
	if len(recovered) > 0 {
		log.Warnf("recovered %d interrupted migration(s) as paused: %v", len(recovered), recovered)
	}
	return recovered, nil
}

// Shutdown stops all runs after their current batch and waits for them.
// Stopped runs are left paused.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.baseCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debugln("migration engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for migrations: %w", ctx.Err())
	}
}

func (e *Engine) usersFor(ctx context.Context, m *Migration) ([]int64, error) {
	if !m.All {
		return []int64{m.UserID}, nil
	}
	users, err := e.configs.UsersOnConfiguration(ctx, m.ConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("users on configuration %d: %w", m.ConfigurationID, err)
	}
	slices.Sort(users)
	return users, nil
}

func (e *Engine) lockUsers(ctx context.Context, owner string, users []int64) error {
	for i, userID := range users {
		ok, err := e.locker.Acquire(ctx, userLockKey(userID), owner, e.opts.LockTTL)
		if err == nil && !ok {
			err = acwrerr.NewConflict("user %d already has a migration in progress", userID)
		}
		if err != nil {
			e.releaseUsers(context.WithoutCancel(ctx), owner, users[:i])
			return err
		}
	}
	return nil
}

func (e *Engine) refreshUsers(ctx context.Context, owner string, users []int64) error {
	for _, userID := range users {
		ok, err := e.locker.Refresh(ctx, userLockKey(userID), owner, e.opts.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lost migration lock of user %d", userID)
		}
	}
	return nil
}

func (e *Engine) releaseUsers(ctx context.Context, owner string, users []int64) {
	for _, userID := range users {
		if err := e.locker.Release(ctx, userLockKey(userID), owner); err != nil {
			log.Warnf("release migration lock of user %d: %s", userID, err)
		}
	}
}

func (e *Engine) persist(ctx context.Context, m *Migration) error {
	m.UpdatedAt = e.timestamp()
	if err := e.store.UpdateMigration(ctx, m); err != nil {
		return fmt.Errorf("persist migration %s: %w", m.ID, err)
	}
	return nil
}

func (e *Engine) emitStatus(ctx context.Context, m *Migration, message string) {
	e.sink.Emit(ctx, ProgressEvent{
		MigrationID:         m.ID,
		Status:              m.Status,
		CurrentBatch:        m.CurrentBatch,
		TotalBatches:        m.TotalBatches,
		ProcessedActivities: m.ProcessedActivities,
		Successful:          m.SuccessfulCalculations,
		Failed:              m.FailedCalculations,
		Skipped:             m.SkippedCalculations,
		Message:             message,
		Time:                e.timestamp(),
	})
}

// launch must be called with e.mu held.
func (e *Engine) launch(m *Migration, users []int64) {
	r := &run{
		id:    m.ID,
		users: users,
		done:  make(chan struct{}),
	}
	e.runs[m.ID] = r

	owned := m.Clone()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(r.done)
		e.execute(e.baseCtx, r, owned)
	}()
}
