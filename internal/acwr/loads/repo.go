package loads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
)

// Store is the append-only load sample storage.
type Store interface {
	// Add inserts samples, ignoring days already recorded. Returns the
	// number of rows actually inserted.
	Add(ctx context.Context, samples []calc.LoadSample) (int, error)
	// Samples returns the user's samples within [from, to], ascending.
	Samples(ctx context.Context, userID int64, from, to time.Time) ([]calc.LoadSample, error)
	// FirstDate returns the user's earliest recorded day.
	FirstDate(ctx context.Context, userID int64) (time.Time, error)
}

type Repo struct {
	db *pgxpool.Pool
}

var _ Store = (*Repo)(nil)

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Add(ctx context.Context, samples []calc.LoadSample) (inserted int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.loads.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("samples", len(samples)))

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
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

	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(`
			INSERT INTO acwr_load_sample (user_id, activity_date, external_load, internal_load)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, activity_date) DO NOTHING
		`, s.UserID, calc.Day(s.Date), s.ExternalLoad, s.InternalLoad)
	}

	results := tx.SendBatch(ctx, batch)
	for range samples {
		tag, execErr := results.Exec()
		if execErr != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert load sample: %w", execErr)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	return inserted, nil
}

func (r *Repo) Samples(ctx context.Context, userID int64, from, to time.Time) (_ []calc.LoadSample, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.loads.samples")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("from", from.Format(time.DateOnly)),
		attribute.String("to", to.Format(time.DateOnly)),
	)

	rows, err := r.db.Query(ctx, `
		SELECT user_id, activity_date, external_load, internal_load
		FROM acwr_load_sample
		WHERE user_id = $1 AND activity_date BETWEEN $2 AND $3
		ORDER BY activity_date ASC
	`, userID, calc.Day(from), calc.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []calc.LoadSample
	for rows.Next() {
		var s calc.LoadSample
		if err := rows.Scan(&s.UserID, &s.Date, &s.ExternalLoad, &s.InternalLoad); err != nil {
			return nil, fmt.Errorf("scan load sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

func (r *Repo) FirstDate(ctx context.Context, userID int64) (_ time.Time, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.loads.firstdate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var first *time.Time
	if err := r.db.QueryRow(ctx, `
		SELECT MIN(activity_date)
		FROM acwr_load_sample
		WHERE user_id = $1
	`, userID).Scan(&first); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, acwrerr.NewNotFound("load history", userID)
		}
		return time.Time{}, err
	}
	if first == nil {
		return time.Time{}, acwrerr.NewNotFound("load history", userID)
	}

	return *first, nil
}
