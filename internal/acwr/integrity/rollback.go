package integrity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

type Scope string

const (
	ScopeSingleBatch   Scope = "single_batch"
	ScopeUserMigration Scope = "user_migration"
	ScopeConfiguration Scope = "configuration"
	ScopeFullSystem    Scope = "full_system"
)

type RollbackStatus string

const (
	RollbackPending    RollbackStatus = "pending"
	RollbackPreparing  RollbackStatus = "preparing"
	RollbackBackingUp  RollbackStatus = "backing_up"
	RollbackValidating RollbackStatus = "validating"
	RollbackExecuting  RollbackStatus = "executing"
	RollbackVerifying  RollbackStatus = "verifying"
	RollbackCompleted  RollbackStatus = "completed"
	RollbackFailed     RollbackStatus = "failed"
	RollbackCancelled  RollbackStatus = "cancelled"
)

func (s RollbackStatus) Terminal() bool {
	return s == RollbackCompleted || s == RollbackFailed || s == RollbackCancelled
}

type RollbackRequest struct {
	MigrationID string `json:"migrationId"`
	Scope       Scope  `json:"scope"`
	// Target is the batch id, user id or configuration id, depending on
	// the scope. Unused for full_system.
	Target      int64  `json:"target"`
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiatedBy"`
}

func (r RollbackRequest) Validate() error {
	if r.MigrationID == "" {
		return acwrerr.NewValidation("migration_id", "must not be empty")
	}
	switch r.Scope {
	case ScopeSingleBatch:
		if r.Target < 0 {
			return acwrerr.NewValidation("target", "batch id must not be negative")
		}
	case ScopeUserMigration, ScopeConfiguration:
		if r.Target <= 0 {
			return acwrerr.NewValidation("target", "must be positive for scope %s", r.Scope)
		}
	case ScopeFullSystem:
	default:
		return acwrerr.NewValidation("scope", "unknown scope %q", r.Scope)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return acwrerr.NewValidation("reason", "must not be empty")
	}
	if r.InitiatedBy == "" {
		return acwrerr.NewValidation("initiated_by", "must not be empty")
	}
	return nil
}

func (r RollbackRequest) filter() CheckpointFilter {
	f := CheckpointFilter{MigrationID: r.MigrationID}
	switch r.Scope {
	case ScopeSingleBatch:
		batchID := int(r.Target)
		f.BatchID = &batchID
	case ScopeUserMigration:
		f.UserID = &r.Target
	}
	return f
}

type RollbackRecord struct {
	ID              string         `json:"rollbackId"`
	MigrationID     string         `json:"migrationId"`
	Scope           Scope          `json:"scope"`
	Target          int64          `json:"target"`
	Reason          string         `json:"reason"`
	InitiatedBy     string         `json:"initiatedBy"`
	Status          RollbackStatus `json:"status"`
	AffectedRecords int            `json:"affectedRecords"`
	ErrorLog        []string       `json:"errorLog"`
	CreatedAt       time.Time      `json:"createdAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

type AuditEntry struct {
	ID              int64          `json:"id"`
	RollbackID      string         `json:"rollbackId"`
	Status          RollbackStatus `json:"status"`
	Message         string         `json:"message"`
	AffectedRecords int            `json:"affectedRecords"`
	CreatedAt       time.Time      `json:"createdAt"`
}

type RollbackStore interface {
	CreateRollback(ctx context.Context, r *RollbackRecord) error
	UpdateRollback(ctx context.Context, r *RollbackRecord) error
	GetRollback(ctx context.Context, id string) (*RollbackRecord, error)
	ListRollbacks(ctx context.Context, migrationID string) ([]RollbackRecord, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Audit(ctx context.Context, rollbackID string) ([]AuditEntry, error)
	PurgeRollbackAudit(ctx context.Context, before time.Time) (int, error)
}

// MigrationGuard is the migration side of a rollback: it keeps the migration
// from running while its rows are restored, and freezes it when a restore
// cannot be verified.
type MigrationGuard interface {
	BeginRollback(ctx context.Context, migrationID string) (release func(), err error)
	Freeze(ctx context.Context, migrationID, reason string) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

type assignmentReader interface {
	UsersOnConfiguration(ctx context.Context, id int64) ([]int64, error)
}

type Manager struct {
	checkpoints    CheckpointStore
	rollbacks      RollbackStore
	results        results.Store
	assignments    assignmentReader
	invalidator    cacheInvalidator
	metricsManager *metrics.Manager
	now            func() time.Time

	guardMu sync.RWMutex
	guard   MigrationGuard
}

type NewManagerParams struct {
	Checkpoints    CheckpointStore
	Rollbacks      RollbackStore
	Results        results.Store
	// Assignments resolves the users of a configuration scoped rollback.
	Assignments    assignmentReader
	Invalidator    cacheInvalidator // optional
	MetricsManager *metrics.Manager
	Now            func() time.Time
}

func NewManager(params NewManagerParams) *Manager {
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		checkpoints:    params.Checkpoints,
		rollbacks:      params.Rollbacks,
		results:        params.Results,
		assignments:    params.Assignments,
		invalidator:    params.Invalidator,
		metricsManager: params.MetricsManager,
		now:            now,
	}
}

// SetGuard wires the migration engine, which itself depends on the manager.
func (m *Manager) SetGuard(guard MigrationGuard) {
	m.guardMu.Lock()
	defer m.guardMu.Unlock()
	m.guard = guard
}

// selectCheckpoints returns the migration's checkpoints inside the scope.
// The configuration scope covers the users assigned to the target
// configuration right now, not the configuration the checkpoint was taken on.
func (m *Manager) selectCheckpoints(ctx context.Context, req RollbackRequest) ([]Checkpoint, error) {
	checkpoints, err := m.checkpoints.Checkpoints(ctx, req.filter())
	if err != nil || req.Scope != ScopeConfiguration {
		return checkpoints, err
	}

	if m.assignments == nil {
		return nil, errors.New("configuration scope needs an assignment reader")
	}
	users, err := m.assignments.UsersOnConfiguration(ctx, req.Target)
	if err != nil {
		return nil, fmt.Errorf("users on configuration %d: %w", req.Target, err)
	}
	current := make(map[int64]bool, len(users))
	for _, u := range users {
		current[u] = true
	}

	selected := checkpoints[:0]
	for _, c := range checkpoints {
		if current[c.UserID] {
			selected = append(selected, c)
		}
	}
	return selected, nil
}

// Checkpoint snapshots the current rows for keys before a batch writes them.
func (m *Manager) Checkpoint(ctx context.Context, migrationID string, batchID int, configurationID int64, keys []results.Key) (_ []Checkpoint, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "integrity.checkpoint")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("migration_id", migrationID),
		attribute.Int("batch_id", batchID),
		attribute.Int("keys", len(keys)),
	)

	existing, err := m.results.Get(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("snapshot rows: %w", err)
	}
	checkpoints, err := BuildCheckpoints(migrationID, batchID, configurationID, keys, existing, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.checkpoints.CreateCheckpoints(ctx, checkpoints); err != nil {
		return nil, fmt.Errorf("store checkpoints: %w", err)
	}
	return checkpoints, nil
}

func (m *Manager) RecordValidation(ctx context.Context, migrationID string, batchID int, v ValidationResult) error {
	return m.checkpoints.SetCheckpointValidation(ctx, migrationID, batchID, v)
}

func (m *Manager) Checkpoints(ctx context.Context, filter CheckpointFilter) ([]Checkpoint, error) {
	return m.checkpoints.Checkpoints(ctx, filter)
}

func (m *Manager) Get(ctx context.Context, rollbackID string) (*RollbackRecord, error) {
	return m.rollbacks.GetRollback(ctx, rollbackID)
}

func (m *Manager) List(ctx context.Context, migrationID string) ([]RollbackRecord, error) {
	return m.rollbacks.ListRollbacks(ctx, migrationID)
}

func (m *Manager) Audit(ctx context.Context, rollbackID string) ([]AuditEntry, error) {
	if _, err := m.rollbacks.GetRollback(ctx, rollbackID); err != nil {
		return nil, err
	}
	return m.rollbacks.Audit(ctx, rollbackID)
}

type rollbackRun struct {
	m      *Manager
	record *RollbackRecord
}

// transition moves the record to status and writes the audit entry. Store
// failures are collected in the record's error log, never returned.
func (run *rollbackRun) transition(ctx context.Context, status RollbackStatus, affected int, format string, args ...any) {
	record := run.record
	record.Status = status
	if affected > 0 {
		record.AffectedRecords += affected
	}
	message := fmt.Sprintf(format, args...)
	if status.Terminal() {
		completed := run.m.now().UTC().Truncate(time.Microsecond)
		record.CompletedAt = &completed
	}

	err := multierr.Append(
		run.m.rollbacks.UpdateRollback(ctx, record),
		run.m.rollbacks.AppendAudit(ctx, AuditEntry{
			RollbackID:      record.ID,
			Status:          status,
			Message:         message,
			AffectedRecords: affected,
			CreatedAt:       run.m.now().UTC().Truncate(time.Microsecond),
		}),
	)
	if err != nil {
		log.Errorf("rollback %s audit [%s]: %s", record.ID, status, err)
		record.ErrorLog = append(record.ErrorLog, fmt.Sprintf("audit %s: %s", status, err))
	}
	log.Debugf("rollback %s -> %s: %s", record.ID, status, message)
}

func (run *rollbackRun) fail(ctx context.Context, err error) {
	run.record.ErrorLog = append(run.record.ErrorLog, err.Error())
	run.transition(ctx, RollbackFailed, 0, "%s", err)
}

// Rollback restores the rows a migration overwrote, walking the rollback
// states synchronously. The returned record reflects the final state; an
// error accompanies every state other than completed.
func (m *Manager) Rollback(ctx context.Context, req RollbackRequest) (_ *RollbackRecord, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "integrity.rollback")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("migration_id", req.MigrationID),
		attribute.String("scope", string(req.Scope)),
	)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.guardMu.RLock()
	guard := m.guard
	m.guardMu.RUnlock()
	if guard == nil {
		return nil, errors.New("rollback manager has no migration guard")
	}

	record := &RollbackRecord{
		ID:          uuid.NewString(),
		MigrationID: req.MigrationID,
		Scope:       req.Scope,
		Target:      req.Target,
		Reason:      req.Reason,
		InitiatedBy: req.InitiatedBy,
		Status:      RollbackPending,
		ErrorLog:    []string{},
		CreatedAt:   m.now().UTC().Truncate(time.Microsecond),
	}
	if err := m.rollbacks.CreateRollback(ctx, record); err != nil {
		return nil, fmt.Errorf("create rollback record: %w", err)
	}
	span.SetAttributes(attribute.String("rollback_id", record.ID))
	log.Infof("rollback %s of migration %s requested by %s: scope %s/%d, %s",
		record.ID, req.MigrationID, req.InitiatedBy, req.Scope, req.Target, req.Reason)

	run := &rollbackRun{m: m, record: record}
	defer func() {
		if m.metricsManager != nil {
			m.metricsManager.CounterRollbacks.WithLabelValues(string(record.Status)).Inc()
		}
	}()

	// the rollback record must reach a terminal state even when the
	// caller goes away mid-way
	auditCtx := context.WithoutCancel(ctx)

	run.transition(auditCtx, RollbackPreparing, 0, "selecting checkpoints for scope %s", req.Scope)
	release, err := guard.BeginRollback(ctx, req.MigrationID)
	if err != nil {
		run.fail(auditCtx, err)
		return record, err
	}
	defer release()

	checkpoints, err := m.selectCheckpoints(ctx, req)
	if err != nil {
		err = fmt.Errorf("load checkpoints: %w", err)
		run.fail(auditCtx, err)
		return record, err
	}
	if len(checkpoints) == 0 {
		err = acwrerr.NewNotFound("checkpoints for rollback scope", fmt.Sprintf("%s/%s/%d", req.MigrationID, req.Scope, req.Target))
		run.fail(auditCtx, err)
		return record, err
	}

	if cancelled := m.cancelIfDone(ctx, auditCtx, run); cancelled != nil {
		return record, cancelled
	}

	run.transition(auditCtx, RollbackBackingUp, 0, "%d checkpoint(s) selected", len(checkpoints))
	keys := affectedKeys(checkpoints)
	if _, err := m.Checkpoint(ctx, req.MigrationID, BackupBatchID, checkpoints[0].ConfigurationID, keys); err != nil {
		err = fmt.Errorf("pre-rollback backup: %w", err)
		run.fail(auditCtx, err)
		return record, err
	}

	run.transition(auditCtx, RollbackValidating, 0, "backed up %d key(s)", len(keys))
	for i := range checkpoints {
		if err := checkpoints[i].Verify(); err != nil {
			run.fail(auditCtx, err)
			return record, err
		}
	}

	if cancelled := m.cancelIfDone(ctx, auditCtx, run); cancelled != nil {
		return record, cancelled
	}

	// from here on the restore runs to completion
	run.transition(auditCtx, RollbackExecuting, 0, "checksums verified")
	sort.SliceStable(checkpoints, func(i, j int) bool {
		return checkpoints[i].BatchID > checkpoints[j].BatchID
	})
	for _, cp := range checkpoints {
		affected, err := m.results.Restore(auditCtx, cp.RollbackData.Keys, cp.Snapshot)
		if err != nil {
			err = fmt.Errorf("restore batch %d user %d: %w", cp.BatchID, cp.UserID, err)
			m.alert(auditCtx, guard, run, err)
			return record, &acwrerr.RollbackFailure{RollbackID: record.ID, MigrationID: req.MigrationID, Reason: err.Error()}
		}
		run.transition(auditCtx, RollbackExecuting, affected, "restored batch %d user %d", cp.BatchID, cp.UserID)
	}

	run.transition(auditCtx, RollbackVerifying, 0, "verifying %d key(s)", len(keys))
	if mismatches, err := m.verify(auditCtx, checkpoints, keys); err != nil || len(mismatches) > 0 {
		if err == nil {
			err = fmt.Errorf("restored state differs: %s", strings.Join(mismatches, "; "))
		}
		m.alert(auditCtx, guard, run, err)
		return record, &acwrerr.RollbackFailure{RollbackID: record.ID, MigrationID: req.MigrationID, Reason: err.Error()}
	}

	if m.invalidator != nil {
		m.invalidator.Invalidate(auditCtx, usersOf(keys)...)
	}

	run.transition(auditCtx, RollbackCompleted, 0, "restored %d record(s)", record.AffectedRecords)
	log.Infof("rollback %s of migration %s completed: %d record(s)", record.ID, req.MigrationID, record.AffectedRecords)

	return record, nil
}

func (m *Manager) cancelIfDone(ctx, auditCtx context.Context, run *rollbackRun) error {
	if err := ctx.Err(); err != nil {
		run.transition(auditCtx, RollbackCancelled, 0, "cancelled: %s", err)
		return err
	}
	return nil
}

// alert fails the rollback, freezes the migration and raises the operator
// alarm (error log reaches sentry).
func (m *Manager) alert(ctx context.Context, guard MigrationGuard, run *rollbackRun, cause error) {
	run.fail(ctx, cause)
	if err := guard.Freeze(ctx, run.record.MigrationID, "rollback "+run.record.ID+" failed: "+cause.Error()); err != nil {
		log.Errorf("freeze migration %s: %s", run.record.MigrationID, err)
	}
	if m.metricsManager != nil {
		m.metricsManager.CounterRollbackFailures.Inc()
	}
	log.WithFields(log.Fields{
		"rollback_id":  run.record.ID,
		"migration_id": run.record.MigrationID,
	}).Errorf("ROLLBACK FAILURE, migration frozen: %s", cause)
}

// verify compares the restored rows with the earliest snapshot of each key.
func (m *Manager) verify(ctx context.Context, checkpoints []Checkpoint, keys []results.Key) ([]string, error) {
	// earliest batch wins: that is the state before the migration touched it
	ordered := append([]Checkpoint(nil), checkpoints...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].BatchID < ordered[j].BatchID
	})
	expected := map[string]*results.Result{}
	for _, cp := range ordered {
		snapshot := results.Index(cp.Snapshot)
		for _, k := range cp.RollbackData.Keys {
			ks := k.String()
			if _, seen := expected[ks]; seen {
				continue
			}
			if row, ok := snapshot[ks]; ok {
				expected[ks] = &row
			} else {
				expected[ks] = nil
			}
		}
	}

	stored, err := m.results.Get(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read restored rows: %w", err)
	}
	actual := results.Index(stored)

	var mismatches []string
	for _, k := range keys {
		ks := k.String()
		want := expected[ks]
		got, exists := actual[ks]
		switch {
		case want == nil && exists:
			mismatches = append(mismatches, ks+": should not exist")
		case want != nil && !exists:
			mismatches = append(mismatches, ks+": missing")
		case want != nil && !want.Equal(got):
			mismatches = append(mismatches, ks+": content differs")
		}
	}
	return mismatches, nil
}

func affectedKeys(checkpoints []Checkpoint) []results.Key {
	seen := map[string]bool{}
	var keys []results.Key
	for _, cp := range checkpoints {
		for _, k := range cp.RollbackData.Keys {
			if ks := k.String(); !seen[ks] {
				seen[ks] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

func usersOf(keys []results.Key) []int64 {
	seen := map[int64]bool{}
	var users []int64
	for _, k := range keys {
		if !seen[k.UserID] {
			seen[k.UserID] = true
			users = append(users, k.UserID)
		}
	}
	return users
}
