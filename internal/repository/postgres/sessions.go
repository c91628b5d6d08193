package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/repository"
)

const sessionColumns = "id, family_id, user_id, refresh_token_id, csrf_hash, device_id, device_label, ip_first, ip_last, user_agent, created_at, last_seen, expires_at, revoked_at, revoke_reason"

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	repo := &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Create inserts a session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	stmt, args, err := r.builder.Insert("auth.sessions").
		Columns(
			"id",
			"family_id",
			"user_id",
			"refresh_token_id",
			"csrf_hash",
			"device_id",
			"device_label",
			"ip_first",
			"ip_last",
			"user_agent",
			"created_at",
			"last_seen",
			"expires_at",
			"revoked_at",
			"revoke_reason",
		).
		Values(
			session.ID,
			session.FamilyID,
			session.UserID,
			optionalString(session.RefreshTokenID),
			session.CSRFHash,
			optionalString(session.DeviceID),
			optionalString(session.DeviceLabel),
			optionalString(session.IPFirst),
			optionalString(session.IPLast),
			optionalString(session.UserAgent),
			session.CreatedAt,
			session.LastSeen,
			session.ExpiresAt,
			optionalTime(session.RevokedAt),
			optionalString(session.RevokeReason),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Get returns a session by identifier.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.selectSessions().
		Where(squirrel.Eq{"id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session by id sql: %w", err)
	}

	return r.scanSession(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByFamily returns the session owning the supplied token family.
func (r *SessionRepository) GetByFamily(ctx context.Context, familyID string) (*domain.Session, error) {
	stmt, args, err := r.selectSessions().
		Where(squirrel.Eq{"family_id": familyID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session by family sql: %w", err)
	}

	return r.scanSession(r.exec.QueryRow(ctx, stmt, args...))
}

// ListByUser returns non-revoked, non-expired sessions for the user ordered by recency.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	now := time.Now().UTC()
	stmt, args, err := r.selectSessions().
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": now}).
		OrderBy("last_seen DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := r.scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// Touch updates session last-seen metadata.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, ip *string, userAgent *string) error {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("last_seen", time.Now().UTC()).
		Set("ip_first", squirrel.Expr("COALESCE(ip_first, ?)", optionalString(ip))).
		Set("ip_last", squirrel.Expr("COALESCE(?, ip_last)", optionalString(ip))).
		Set("user_agent", squirrel.Expr("COALESCE(?, user_agent)", optionalString(userAgent))).
		Where(squirrel.Eq{"id": sessionID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return nil
}

// UpdateRotationState atomically swaps the active refresh token pointer and the
// CSRF hash. A rotation therefore invalidates the previous CSRF value in the
// same statement that binds the new refresh token.
func (r *SessionRepository) UpdateRotationState(ctx context.Context, sessionID, refreshTokenID, csrfHash string) error {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("refresh_token_id", refreshTokenID).
		Set("csrf_hash", csrfHash).
		Set("last_seen", time.Now().UTC()).
		Where(squirrel.Eq{"id": sessionID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update rotation state sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update rotation state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Revoke marks a session as revoked. Already revoked sessions are left untouched.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, reason string) error {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("revoked_at", time.Now().UTC()).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"id": sessionID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke session sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeByFamily revokes the sessions bound to a token family and reports how many changed.
func (r *SessionRepository) RevokeByFamily(ctx context.Context, familyID string, reason string) (int, error) {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("revoked_at", time.Now().UTC()).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"family_id": familyID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke sessions by family sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions by family: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// RevokeAllForUser revokes every active session for a user.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, reason string) (int, error) {
	stmt, args, err := r.builder.Update("auth.sessions").
		Set("revoked_at", time.Now().UTC()).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke sessions for user sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// StoreEvent persists a session lifecycle event record.
func (r *SessionRepository) StoreEvent(ctx context.Context, event domain.SessionEvent) error {
	var details []byte
	if event.Details != nil {
		payload, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal session event details: %w", err)
		}
		details = payload
	}

	stmt, args, err := r.builder.Insert("auth.session_events").
		Columns("id", "session_id", "kind", "at", "ip", "user_agent", "details").
		Values(
			event.ID,
			event.SessionID,
			event.Kind,
			event.At,
			optionalString(event.IP),
			optionalString(event.UserAgent),
			details,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}

	return nil
}

func (r *SessionRepository) selectSessions() squirrel.SelectBuilder {
	return r.builder.
		Select(
			"id",
			"family_id",
			"user_id",
			"refresh_token_id",
			"csrf_hash",
			"device_id",
			"device_label",
			"ip_first",
			"ip_last",
			"user_agent",
			"created_at",
			"last_seen",
			"expires_at",
			"revoked_at",
			"revoke_reason",
		).
		From("auth.sessions")
}

func (r *SessionRepository) scanSession(row pgx.Row) (*domain.Session, error) {
	session, err := scanSessionFields(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) scanSessionRow(rows pgx.Rows) (*domain.Session, error) {
	session, err := scanSessionFields(rows)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func scanSessionFields(row pgx.Row) (*domain.Session, error) {
	var (
		session        domain.Session
		refreshTokenID sql.NullString
		deviceID       sql.NullString
		deviceLabel    sql.NullString
		ipFirst        sql.NullString
		ipLast         sql.NullString
		userAgent      sql.NullString
		revokedAt      sql.NullTime
		revokeReason   sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.FamilyID,
		&session.UserID,
		&refreshTokenID,
		&session.CSRFHash,
		&deviceID,
		&deviceLabel,
		&ipFirst,
		&ipLast,
		&userAgent,
		&session.CreatedAt,
		&session.LastSeen,
		&session.ExpiresAt,
		&revokedAt,
		&revokeReason,
	); err != nil {
		return nil, err
	}

	session.RefreshTokenID = nullableStringPtr(refreshTokenID)
	session.DeviceID = nullableStringPtr(deviceID)
	session.DeviceLabel = nullableStringPtr(deviceLabel)
	session.IPFirst = nullableStringPtr(ipFirst)
	session.IPLast = nullableStringPtr(ipLast)
	session.UserAgent = nullableStringPtr(userAgent)
	session.RevokedAt = nullableTimePtr(revokedAt)
	session.RevokeReason = nullableStringPtr(revokeReason)

	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
