package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/repository"
)

const userColumns = "id, email, display_name, password_hash, plan, is_admin, failed_logins, locked_until, registered_at, last_login, plan_changed_at"

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	repo := &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Create inserts a new user row.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert("auth.users").
		Columns(
			"id",
			"email",
			"display_name",
			"password_hash",
			"plan",
			"is_admin",
			"failed_logins",
			"locked_until",
			"registered_at",
			"last_login",
			"plan_changed_at",
		).
		Values(
			user.ID,
			strings.ToLower(strings.TrimSpace(user.Email)),
			user.DisplayName,
			user.PasswordHash,
			user.Plan,
			user.IsAdmin,
			user.FailedLogins,
			optionalTime(user.LockedUntil),
			user.RegisteredAt,
			optionalTime(user.LastLogin),
			optionalTime(user.PlanChangedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(strings.Split(userColumns, ", ")...).
		From("auth.users").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(strings.Split(userColumns, ", ")...).
		From("auth.users").
		Where(squirrel.Eq{"email": strings.ToLower(strings.TrimSpace(email))}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user by email sql: %w", err)
	}

	return r.scanUser(r.exec.QueryRow(ctx, stmt, args...))
}

func (r *UserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user          domain.User
		lockedUntil   sql.NullTime
		lastLogin     sql.NullTime
		planChangedAt sql.NullTime
	)

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Plan,
		&user.IsAdmin,
		&user.FailedLogins,
		&lockedUntil,
		&user.RegisteredAt,
		&lastLogin,
		&planChangedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.LockedUntil = nullableTimePtr(lockedUntil)
	user.LastLogin = nullableTimePtr(lastLogin)
	user.PlanChangedAt = nullableTimePtr(planChangedAt)

	return &user, nil
}

// UpdateFailureState persists the consecutive-failure counter and lockout deadline.
// The deadline only moves forward; a concurrent later deadline is never shortened.
func (r *UserRepository) UpdateFailureState(ctx context.Context, id string, failedLogins int, lockedUntil *time.Time) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("failed_logins", failedLogins).
		Set("locked_until", squirrel.Expr("GREATEST(COALESCE(locked_until, 'epoch'::timestamptz), COALESCE(?::timestamptz, 'epoch'::timestamptz))", optionalTime(lockedUntil))).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update failure state sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update failure state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ResetFailureState clears failures and lockout after a successful login.
func (r *UserRepository) ResetFailureState(ctx context.Context, id string, lastLogin time.Time) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("failed_logins", 0).
		Set("locked_until", nil).
		Set("last_login", lastLogin.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset failure state sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("reset failure state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdatePlan switches a user's subscription tier.
func (r *UserRepository) UpdatePlan(ctx context.Context, id string, plan domain.Plan, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("plan", plan).
		Set("plan_changed_at", changedAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update plan sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ port.UserRepository = (*UserRepository)(nil)
