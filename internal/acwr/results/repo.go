package results

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

// Store persists enhanced calculation results.
type Store interface {
	// Upsert writes rows, overwriting existing rows with the same key.
	Upsert(ctx context.Context, rows []Result) (int, error)
	// Get returns the existing rows for keys. Missing keys are left out.
	Get(ctx context.Context, keys []Key) ([]Result, error)
	Range(ctx context.Context, userID, configurationID int64, from, to time.Time) ([]Result, error)
	Latest(ctx context.Context, userID, configurationID int64) (*Result, error)
	// Restore deletes deleteKeys and inserts rows in a single transaction.
	Restore(ctx context.Context, deleteKeys []Key, rows []Result) (int, error)
}

const resultColumns = `user_id, activity_date, configuration_id, chronic_period_days, decay_rate,
	acute_load, acute_trimp, chronic_load, chronic_trimp,
	acute_chronic_ratio, trimp_acute_chronic_ratio, normalized_divergence,
	data_sufficiency, calculated_at`

const upsertQuery = `
	INSERT INTO acwr_enhanced_calculation (` + resultColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (user_id, activity_date, configuration_id) DO UPDATE SET
		chronic_period_days = EXCLUDED.chronic_period_days,
		decay_rate = EXCLUDED.decay_rate,
		acute_load = EXCLUDED.acute_load,
		acute_trimp = EXCLUDED.acute_trimp,
		chronic_load = EXCLUDED.chronic_load,
		chronic_trimp = EXCLUDED.chronic_trimp,
		acute_chronic_ratio = EXCLUDED.acute_chronic_ratio,
		trimp_acute_chronic_ratio = EXCLUDED.trimp_acute_chronic_ratio,
		normalized_divergence = EXCLUDED.normalized_divergence,
		data_sufficiency = EXCLUDED.data_sufficiency,
		calculated_at = EXCLUDED.calculated_at
`

type Repo struct {
	db *pgxpool.Pool
}

var _ Store = (*Repo)(nil)

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Upsert(ctx context.Context, rows []Result) (written int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.results.upsert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	if len(rows) == 0 {
		return 0, nil
	}

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		written, err = upsertRows(ctx, tx, rows)
		return err
	})
	return written, err
}

func (r *Repo) Get(ctx context.Context, keys []Key) (_ []Result, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.results.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("keys", len(keys)))

	if len(keys) == 0 {
		return nil, nil
	}

	userIDs := make([]int64, len(keys))
	dates := make([]time.Time, len(keys))
	configIDs := make([]int64, len(keys))
	for i, k := range keys {
		userIDs[i] = k.UserID
		dates[i] = calc.Day(k.Date)
		configIDs[i] = k.ConfigurationID
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+resultColumns+`
		FROM acwr_enhanced_calculation
		WHERE (user_id, activity_date, configuration_id) IN (
			SELECT * FROM unnest($1::bigint[], $2::date[], $3::bigint[])
		)
		ORDER BY user_id, activity_date
	`, userIDs, dates, configIDs)
	if err != nil {
		return nil, err
	}
	return collectResults(rows)
}

func (r *Repo) Range(ctx context.Context, userID, configurationID int64, from, to time.Time) (_ []Result, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.results.range")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("configuration_id", configurationID),
	)

	rows, err := r.db.Query(ctx, `
		SELECT `+resultColumns+`
		FROM acwr_enhanced_calculation
		WHERE user_id = $1 AND configuration_id = $2 AND activity_date BETWEEN $3 AND $4
		ORDER BY activity_date ASC
	`, userID, configurationID, calc.Day(from), calc.Day(to))
	if err != nil {
		return nil, err
	}
	return collectResults(rows)
}

func (r *Repo) Latest(ctx context.Context, userID, configurationID int64) (_ *Result, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.results.latest")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	row := r.db.QueryRow(ctx, `
		SELECT `+resultColumns+`
		FROM acwr_enhanced_calculation
		WHERE user_id = $1 AND configuration_id = $2
		ORDER BY activity_date DESC
		LIMIT 1
	`, userID, configurationID)

	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acwrerr.NewNotFound("calculation result", fmt.Sprintf("%d/%d", userID, configurationID))
		}
		return nil, err
	}
	return res, nil
}

func (r *Repo) Restore(ctx context.Context, deleteKeys []Key, rows []Result) (affected int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.results.restore")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.Int("delete_keys", len(deleteKeys)),
		attribute.Int("rows", len(rows)),
	)

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if len(deleteKeys) > 0 {
			batch := &pgx.Batch{}
			for _, k := range deleteKeys {
				batch.Queue(`
					DELETE FROM acwr_enhanced_calculation
					WHERE user_id = $1 AND activity_date = $2 AND configuration_id = $3
				`, k.UserID, calc.Day(k.Date), k.ConfigurationID)
			}
			results := tx.SendBatch(ctx, batch)
			for range deleteKeys {
				tag, execErr := results.Exec()
				if execErr != nil {
					_ = results.Close()
					return fmt.Errorf("delete calculation result: %w", execErr)
				}
				affected += int(tag.RowsAffected())
			}
			if err := results.Close(); err != nil {
				return fmt.Errorf("close delete batch: %w", err)
			}
		}

		restored, err := upsertRows(ctx, tx, rows)
		if err != nil {
			return err
		}
		affected += restored
		return nil
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

func (r *Repo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
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

	return fn(tx)
}

func upsertRows(ctx context.Context, tx pgx.Tx, rows []Result) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, res := range rows {
		batch.Queue(upsertQuery,
			res.UserID, calc.Day(res.Date), res.ConfigurationID, res.ChronicPeriodDays, res.DecayRate,
			res.AcuteLoad, res.AcuteTRIMP, res.ChronicLoad, res.ChronicTRIMP,
			res.ACWR, res.TrimpACWR, res.NormalizedDivergence,
			res.DataSufficiency, res.CalculatedAt,
		)
	}

	written := 0
	results := tx.SendBatch(ctx, batch)
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("upsert calculation result: %w", err)
		}
		written += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close upsert batch: %w", err)
	}
	return written, nil
}

func collectResults(rows pgx.Rows) ([]Result, error) {
	defer rows.Close()

	var out []Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calculation result: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanResult(row pgx.Row) (*Result, error) {
	var res Result
	if err := row.Scan(
		&res.UserID, &res.Date, &res.ConfigurationID, &res.ChronicPeriodDays, &res.DecayRate,
		&res.AcuteLoad, &res.AcuteTRIMP, &res.ChronicLoad, &res.ChronicTRIMP,
		&res.ACWR, &res.TrimpACWR, &res.NormalizedDivergence,
		&res.DataSufficiency, &res.CalculatedAt,
	); err != nil {
		return nil, err
	}
	res.Date = calc.Day(res.Date)
	res.CalculatedAt = res.CalculatedAt.UTC()
	return &res, nil
}
