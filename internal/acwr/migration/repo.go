package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

type Store interface {
	CreateMigration(ctx context.Context, m *Migration) error
	UpdateMigration(ctx context.Context, m *Migration) error
	GetMigration(ctx context.Context, id string) (*Migration, error)
	// ListMigrations returns migrations newest first. An empty status matches all.
	ListMigrations(ctx context.Context, status Status) ([]Migration, error)
}

const migrationColumns = `migration_id, user_id, all_users, configuration_id, date_from, date_to,
	batch_size, validation_level, status, current_batch, total_batches, processed_activities,
	successful_calculations, failed_calculations, skipped_calculations, batch_results,
	cursor_user_id, cursor_date, error, frozen, frozen_reason, started_by,
	created_at, updated_at, completed_at`

type Repo struct {
	db *pgxpool.Pool
}

var _ Store = (*Repo)(nil)

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) CreateMigration(ctx context.Context, m *Migration) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.migration.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	args, err := migrationArgs(m)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO acwr_migration (`+migrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, args...)
	return err
}

func (r *Repo) UpdateMigration(ctx context.Context, m *Migration) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.migration.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	batchResults, err := json.Marshal(m.BatchResults)
	if err != nil {
		return fmt.Errorf("marshal batch results: %w", err)
	}
	cursorUser, cursorDate := m.cursorColumns()
	// only the progress columns change after creation
	tag, err := r.db.Exec(ctx, `
		UPDATE acwr_migration SET
			status = $2, current_batch = $3, total_batches = $4, processed_activities = $5,
			successful_calculations = $6, failed_calculations = $7, skipped_calculations = $8,
			batch_results = $9, cursor_user_id = $10, cursor_date = $11, error = $12,
			frozen = $13, frozen_reason = $14, updated_at = $15, completed_at = $16
		WHERE migration_id = $1
	`, m.ID, m.Status, m.CurrentBatch, m.TotalBatches, m.ProcessedActivities,
		m.SuccessfulCalculations, m.FailedCalculations, m.SkippedCalculations,
		batchResults, cursorUser, cursorDate, m.Error,
		m.Frozen, m.FrozenReason, m.UpdatedAt, m.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return acwrerr.NewNotFound("migration", m.ID)
	}
	return nil
}

func (r *Repo) GetMigration(ctx context.Context, id string) (_ *Migration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.migration.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	m, err := scanMigration(r.db.QueryRow(ctx, `
		SELECT `+migrationColumns+`
		FROM acwr_migration
		WHERE migration_id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acwrerr.NewNotFound("migration", id)
		}
		return nil, err
	}
	return m, nil
}

func (r *Repo) ListMigrations(ctx context.Context, status Status) (_ []Migration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.migration.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT `+migrationColumns+`
		FROM acwr_migration
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Migration{}
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

func migrationArgs(m *Migration) ([]any, error) {
	batchResults, err := json.Marshal(m.BatchResults)
	if err != nil {
		return nil, fmt.Errorf("marshal batch results: %w", err)
	}
	var userID *int64
	if !m.All {
		userID = &m.UserID
	}
	cursorUser, cursorDate := m.cursorColumns()
	return []any{
		m.ID, userID, m.All, m.ConfigurationID, m.From, m.To,
		m.BatchSize, m.ValidationLevel, m.Status, m.CurrentBatch, m.TotalBatches, m.ProcessedActivities,
		m.SuccessfulCalculations, m.FailedCalculations, m.SkippedCalculations, batchResults,
		cursorUser, cursorDate, m.Error, m.Frozen, m.FrozenReason, m.StartedBy,
		m.CreatedAt, m.UpdatedAt, m.CompletedAt,
	}, nil
}

func (m *Migration) cursorColumns() (*int64, *time.Time) {
	if m.Cursor == nil {
		return nil, nil
	}
	return &m.Cursor.UserID, &m.Cursor.Date
}

func scanMigration(row pgx.Row) (*Migration, error) {
	var m Migration
	var userID, cursorUser *int64
	var cursorDate *time.Time
	var batchResults []byte
	if err := row.Scan(
		&m.ID, &userID, &m.All, &m.ConfigurationID, &m.From, &m.To,
		&m.BatchSize, &m.ValidationLevel, &m.Status, &m.CurrentBatch, &m.TotalBatches, &m.ProcessedActivities,
		&m.SuccessfulCalculations, &m.FailedCalculations, &m.SkippedCalculations, &batchResults,
		&cursorUser, &cursorDate, &m.Error, &m.Frozen, &m.FrozenReason, &m.StartedBy,
		&m.CreatedAt, &m.UpdatedAt, &m.CompletedAt,
	); err != nil {
		return nil, err
	}
	if userID != nil {
		m.UserID = *userID
	}
	if cursorUser != nil && cursorDate != nil {
		m.Cursor = &Cursor{UserID: *cursorUser, Date: cursorDate.UTC()}
	}
	m.From, m.To = m.From.UTC(), m.To.UTC()
	m.BatchResults = []BatchResult{}
	if len(batchResults) > 0 {
		if err := json.Unmarshal(batchResults, &m.BatchResults); err != nil {
			return nil, fmt.Errorf("unmarshal batch results: %w", err)
		}
	}
	return &m, nil
}
