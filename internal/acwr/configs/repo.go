package configs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

// Store persists configurations and user assignments.
type Store interface {
	Create(ctx context.Context, c NewConfiguration) (*Configuration, error)
	Get(ctx context.Context, id int64) (*Configuration, error)
	List(ctx context.Context, includeInactive bool) ([]Configuration, error)
	GetDefault(ctx context.Context) (*Configuration, error)
	SetDefault(ctx context.Context, id int64) error
	// EnsureDefault creates c as the default when no default exists yet.
	EnsureDefault(ctx context.Context, c NewConfiguration) (*Configuration, error)
	Deactivate(ctx context.Context, id int64) error

	ActiveAssignment(ctx context.Context, userID int64) (*Assignment, error)
	// Assign deactivates the user's current assignment and inserts the new
	// one atomically.
	Assign(ctx context.Context, a Assignment) (*Assignment, error)
	AssignmentHistory(ctx context.Context, userID int64) ([]Assignment, error)
	UsersOnConfiguration(ctx context.Context, id int64) ([]int64, error)
}

const configurationColumns = `id, name, chronic_period_days, decay_rate, is_active, is_default, notes, created_by, created_at`

const assignmentColumns = `id, user_id, configuration_id, assigned_at, assigned_by, reason, is_active, deactivated_at`

type Repo struct {
	db *pgxpool.Pool
}

var _ Store = (*Repo)(nil)

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Create(ctx context.Context, c NewConfiguration) (_ *Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("name", c.Name))

	row := r.db.QueryRow(ctx, `
		INSERT INTO acwr_configuration (name, chronic_period_days, decay_rate, notes, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+configurationColumns,
		c.Name, c.ChronicPeriodDays, c.DecayRate, c.Notes, c.CreatedBy,
	)
	created, err := scanConfiguration(row)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return nil, acwrerr.NewValidation("name", "configuration %q already exists", c.Name)
		}
		if pkg.IsCheckViolationError(err) {
			return nil, acwrerr.NewValidation("", "configuration parameters out of bounds")
		}
		return nil, err
	}
	return created, nil
}

func (r *Repo) Get(ctx context.Context, id int64) (_ *Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	c, err := scanConfiguration(r.db.QueryRow(ctx, `
		SELECT `+configurationColumns+`
		FROM acwr_configuration
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acwrerr.NewNotFound("configuration", id)
		}
		return nil, err
	}
	return c, nil
}

func (r *Repo) List(ctx context.Context, includeInactive bool) (_ []Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Bool("include-inactive", includeInactive))

	rows, err := r.db.Query(ctx, `
		SELECT `+configurationColumns+`
		FROM acwr_configuration
		WHERE is_active OR $1
		ORDER BY id ASC
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Configuration
	for rows.Next() {
		c, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

func (r *Repo) GetDefault(ctx context.Context) (_ *Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.getdefault")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	c, err := scanConfiguration(r.db.QueryRow(ctx, `
		SELECT `+configurationColumns+`
		FROM acwr_configuration
		WHERE is_default
	`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acwrerr.NewNotFound("default configuration", "-")
		}
		return nil, err
	}
	return c, nil
}

func (r *Repo) SetDefault(ctx context.Context, id int64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.setdefault")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = finishTx(ctx, tx, err)
	}()

	var isActive bool
	if err := tx.QueryRow(ctx, `
		SELECT is_active FROM acwr_configuration WHERE id = $1 FOR UPDATE
	`, id).Scan(&isActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return acwrerr.NewNotFound("configuration", id)
		}
		return err
	}
	if !isActive {
		return acwrerr.NewConflict("configuration %d is inactive and cannot become the default", id)
	}

	if _, err := tx.Exec(ctx, `UPDATE acwr_configuration SET is_default = FALSE WHERE is_default AND id <> $1`, id); err != nil {
		return fmt.Errorf("clear default: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE acwr_configuration SET is_default = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	return nil
}

func (r *Repo) EnsureDefault(ctx context.Context, c NewConfiguration) (_ *Configuration, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.ensuredefault")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	existing, err := r.GetDefault(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, acwrerr.ErrNotFound) {
		return nil, err
	}

	// the partial unique index on is_default turns a concurrent bootstrap
	// into a unique violation; the winner's row is then read back
	created, err := scanConfiguration(r.db.QueryRow(ctx, `
		INSERT INTO acwr_configuration (name, chronic_period_days, decay_rate, notes, created_by, is_default)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (name) DO UPDATE SET is_default = TRUE, is_active = TRUE
		RETURNING `+configurationColumns,
		c.Name, c.ChronicPeriodDays, c.DecayRate, c.Notes, c.CreatedBy,
	))
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return r.GetDefault(ctx)
		}
		return nil, err
	}
	return created, nil
}

func (r *Repo) Deactivate(ctx context.Context, id int64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.deactivate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = finishTx(ctx, tx, err)
	}()

	var isActive, isDefault bool
	if err := tx.QueryRow(ctx, `
		SELECT is_active, is_default FROM acwr_configuration WHERE id = $1 FOR UPDATE
	`, id).Scan(&isActive, &isDefault); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return acwrerr.NewNotFound("configuration", id)
		}
		return err
	}
	if !isActive {
		return nil
	}
	if isDefault {
		return acwrerr.NewConflict("configuration %d is the system default", id)
	}

	var assigned int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM acwr_user_configuration
		WHERE configuration_id = $1 AND is_active
	`, id).Scan(&assigned); err != nil {
		return fmt.Errorf("count assignments: %w", err)
	}
	if assigned > 0 {
		return acwrerr.NewConflict("configuration %d is assigned to %d user(s)", id, assigned)
	}

	if _, err := tx.Exec(ctx, `UPDATE acwr_configuration SET is_active = FALSE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return nil
}

func (r *Repo) ActiveAssignment(ctx context.Context, userID int64) (_ *Assignment, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.activeassignment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("user_id", userID))

	a, err := scanAssignment(r.db.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM acwr_user_configuration
		WHERE user_id = $1 AND is_active
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acwrerr.NewNotFound("configuration assignment", userID)
		}
		return nil, err
	}
	return a, nil
}

func (r *Repo) Assign(ctx context.Context, a Assignment) (_ *Assignment, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.assign")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.Int64("user_id", a.UserID),
		attribute.Int64("configuration_id", a.ConfigurationID),
	)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = finishTx(ctx, tx, err)
	}()

	// serializes assignments of the same user
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('acwr_assign:' || $1::text, 0))`, a.UserID); err != nil {
		return nil, fmt.Errorf("assignment lock: %w", err)
	}

	var isActive bool
	if err := tx.QueryRow(ctx, `
		SELECT is_active FROM acwr_configuration WHERE id = $1 FOR SHARE
	`, a.ConfigurationID).Scan(&isActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acwrerr.NewNotFound("configuration", a.ConfigurationID)
		}
		return nil, err
	}
	if !isActive {
		return nil, acwrerr.NewNotFound("active configuration", a.ConfigurationID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE acwr_user_configuration
		SET is_active = FALSE, deactivated_at = $2
		WHERE user_id = $1 AND is_active
	`, a.UserID, a.AssignedAt); err != nil {
		return nil, fmt.Errorf("deactivate previous assignment: %w", err)
	}

	created, err := scanAssignment(tx.QueryRow(ctx, `
		INSERT INTO acwr_user_configuration (user_id, configuration_id, assigned_at, assigned_by, reason, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING `+assignmentColumns,
		a.UserID, a.ConfigurationID, a.AssignedAt, a.AssignedBy, a.Reason,
	))
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return nil, acwrerr.NewConflict("concurrent assignment for user %d", a.UserID)
		}
		if pkg.IsForeignKeyViolationError(err) {
			return nil, acwrerr.NewNotFound("configuration", a.ConfigurationID)
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	return created, nil
}

func (r *Repo) AssignmentHistory(ctx context.Context, userID int64) (_ []Assignment, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.assignmenthistory")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM acwr_user_configuration
		WHERE user_id = $1
		ORDER BY assigned_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *a)
	}
	return history, rows.Err()
}

func (r *Repo) UsersOnConfiguration(ctx context.Context, id int64) (_ []int64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.acwr.configs.users")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT user_id FROM acwr_user_configuration
		WHERE configuration_id = $1 AND is_active
		ORDER BY user_id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var u int64
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanConfiguration(row pgx.Row) (*Configuration, error) {
	c := &Configuration{}
	var notes, createdBy *string
	if err := row.Scan(
		&c.ID, &c.Name, &c.ChronicPeriodDays, &c.DecayRate,
		&c.IsActive, &c.IsDefault, &notes, &createdBy, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	if notes != nil {
		c.Notes = *notes
	}
	if createdBy != nil {
		c.CreatedBy = *createdBy
	}
	return c, nil
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	a := &Assignment{}
	var deactivatedAt *time.Time
	if err := row.Scan(
		&a.ID, &a.UserID, &a.ConfigurationID, &a.AssignedAt,
		&a.AssignedBy, &a.Reason, &a.IsActive, &deactivatedAt,
	); err != nil {
		return nil, err
	}
	a.DeactivatedAt = deactivatedAt
	return a, nil
}

func finishTx(ctx context.Context, tx pgx.Tx, err error) error {
	if err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}
