package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

const checkpointColumns = `checkpoint_id, migration_id, user_id, batch_id, configuration_id, created_at,
	validation_result, data_snapshot, checksum, rollback_data`

const rollbackColumns = `rollback_id, migration_id, scope, target, reason, initiated_by, status,
	affected_records, error_log, created_at, completed_at`

type Repo struct {
	db *pgxpool.Pool
}

var (
	_ CheckpointStore = (*Repo)(nil)
	_ RollbackStore   = (*Repo)(nil)
)

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) CreateCheckpoints(ctx context.Context, checkpoints []Checkpoint) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.checkpoints.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("checkpoints", len(checkpoints)))

	if len(checkpoints) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, cp := range checkpoints {
		snapshot, err := json.Marshal(cp.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		rollbackData, err := json.Marshal(cp.RollbackData)
		if err != nil {
			return fmt.Errorf("marshal rollback data: %w", err)
		}
		var validation []byte
		if cp.Validation != nil {
			if validation, err = json.Marshal(cp.Validation); err != nil {
				return fmt.Errorf("marshal validation: %w", err)
			}
		}
		batch.Queue(`
			INSERT INTO acwr_migration_checkpoint (`+checkpointColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, cp.ID, cp.MigrationID, cp.UserID, cp.BatchID, cp.ConfigurationID, cp.CreatedAt,
			validation, snapshot, cp.Checksum, rollbackData)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	results := tx.SendBatch(ctx, batch)
	for range checkpoints {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert checkpoint: %w", err)
		}
	}
	return results.Close()
}

func (r *Repo) SetCheckpointValidation(ctx context.Context, migrationID string, batchID int, v ValidationResult) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.checkpoints.validation")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	validation, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal validation: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE acwr_migration_checkpoint
		SET validation_result = $3
		WHERE migration_id = $1 AND batch_id = $2
	`, migrationID, batchID, validation)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return acwrerr.NewNotFound("checkpoint", fmt.Sprintf("%s/%d", migrationID, batchID))
	}
	return nil
}

func (r *Repo) Checkpoints(ctx context.Context, filter CheckpointFilter) (_ []Checkpoint, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.checkpoints.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.MigrationID != "" {
		add("migration_id = $%d", filter.MigrationID)
	}
	if filter.BatchID != nil {
		add("batch_id = $%d", *filter.BatchID)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.ConfigurationID != nil {
		add("configuration_id = $%d", *filter.ConfigurationID)
	}
	if !filter.IncludeBackups {
		add("batch_id <> $%d", BackupBatchID)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+checkpointColumns+`
		FROM acwr_migration_checkpoint
		`+where+`
		ORDER BY batch_id, user_id, created_at
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var (
			cp                               Checkpoint
			validation, snapshot, rollbackDt []byte
		)
		if err := rows.Scan(
			&cp.ID, &cp.MigrationID, &cp.UserID, &cp.BatchID, &cp.ConfigurationID, &cp.CreatedAt,
			&validation, &snapshot, &cp.Checksum, &rollbackDt,
		); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if len(validation) > 0 {
			cp.Validation = &ValidationResult{}
			if err := json.Unmarshal(validation, cp.Validation); err != nil {
				return nil, fmt.Errorf("unmarshal validation of checkpoint %s: %w", cp.ID, err)
			}
		}
		if err := json.Unmarshal(snapshot, &cp.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot of checkpoint %s: %w", cp.ID, err)
		}
		if err := json.Unmarshal(rollbackDt, &cp.RollbackData); err != nil {
			return nil, fmt.Errorf("unmarshal rollback data of checkpoint %s: %w", cp.ID, err)
		}
		cp.CreatedAt = cp.CreatedAt.UTC()
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return checkpoints, nil
}

func (r *Repo) PurgeCheckpoints(ctx context.Context, before time.Time) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.checkpoints.purge")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `DELETE FROM acwr_migration_checkpoint WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repo) CreateRollback(ctx context.Context, rb *RollbackRecord) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.rollback.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	errorLog, err := json.Marshal(rb.ErrorLog)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO acwr_rollback (`+rollbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rb.ID, rb.MigrationID, rb.Scope, rb.Target, rb.Reason, rb.InitiatedBy, rb.Status,
		rb.AffectedRecords, errorLog, rb.CreatedAt, rb.CompletedAt)
	return err
}

func (r *Repo) UpdateRollback(ctx context.Context, rb *RollbackRecord) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.rollback.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	errorLog, err := json.Marshal(rb.ErrorLog)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE acwr_rollback
		SET status = $2, affected_records = $3, error_log = $4, completed_at = $5
		WHERE rollback_id = $1
	`, rb.ID, rb.Status, rb.AffectedRecords, errorLog, rb.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return acwrerr.NewNotFound("rollback", rb.ID)
	}
	return nil
}

func (r *Repo) GetRollback(ctx context.Context, id string) (_ *RollbackRecord, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.rollback.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rb, err := scanRollback(r.db.QueryRow(ctx, `
		SELECT `+rollbackColumns+`
		FROM acwr_rollback
		WHERE rollback_id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acwrerr.NewNotFound("rollback", id)
		}
		return nil, err
	}
	return rb, nil
}

func (r *Repo) ListRollbacks(ctx context.Context, migrationID string) (_ []RollbackRecord, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.rollback.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT `+rollbackColumns+`
		FROM acwr_rollback
		WHERE migration_id = $1
		ORDER BY created_at
	`, migrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []RollbackRecord
	for rows.Next() {
		rb, err := scanRollback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rollback: %w", err)
		}
		list = append(list, *rb)
	}
	return list, rows.Err()
}

func (r *Repo) AppendAudit(ctx context.Context, e AuditEntry) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.audit.append")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx, `
		INSERT INTO acwr_rollback_audit (rollback_id, status, message, affected_records, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.RollbackID, e.Status, e.Message, e.AffectedRecords, e.CreatedAt)
	return err
}

func (r *Repo) Audit(ctx context.Context, rollbackID string) (_ []AuditEntry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.audit.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT id, rollback_id, status, message, affected_records, created_at
		FROM acwr_rollback_audit
		WHERE rollback_id = $1
		ORDER BY id
	`, rollbackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.RollbackID, &e.Status, &e.Message, &e.AffectedRecords, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repo) PurgeRollbackAudit(ctx context.Context, before time.Time) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.integrity.audit.purge")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `DELETE FROM acwr_rollback_audit WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanRollback(row pgx.Row) (*RollbackRecord, error) {
	var (
		rb       RollbackRecord
		errorLog []byte
	)
	if err := row.Scan(
		&rb.ID, &rb.MigrationID, &rb.Scope, &rb.Target, &rb.Reason, &rb.InitiatedBy, &rb.Status,
		&rb.AffectedRecords, &errorLog, &rb.CreatedAt, &rb.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(errorLog) > 0 {
		if err := json.Unmarshal(errorLog, &rb.ErrorLog); err != nil {
			return nil, fmt.Errorf("unmarshal error log: %w", err)
		}
	}
	if rb.ErrorLog == nil {
		rb.ErrorLog = []string{}
	}
	rb.CreatedAt = rb.CreatedAt.UTC()
	if rb.CompletedAt != nil {
		utc := rb.CompletedAt.UTC()
		rb.CompletedAt = &utc
	}
	return &rb, nil
}
