package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/namecraft/auth-service/internal/core/domain"
	"github.com/namecraft/auth-service/internal/core/port"
	"github.com/namecraft/auth-service/internal/repository"
)

// TokenRepository implements port.TokenRepository using PostgreSQL tables.
type TokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	repo := &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// CreateRefreshToken inserts a refresh token hash bound to a session and family.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error {
	var metadata []byte
	if token.Metadata != nil {
		payload, err := json.Marshal(token.Metadata)
		if err != nil {
			return fmt.Errorf("marshal refresh token metadata: %w", err)
		}
		metadata = payload
	}

	stmt, args, err := r.builder.Insert("auth.refresh_tokens").
		Columns(
			"id",
			"user_id",
			"session_id",
			"family_id",
			"token_hash",
			"ip",
			"user_agent",
			"created_at",
			"expires_at",
			"used_at",
			"revoked_at",
			"metadata",
		).
		Values(
			token.ID,
			token.UserID,
			token.SessionID,
			token.FamilyID,
			token.TokenHash,
			optionalString(token.IP),
			optionalString(token.UserAgent),
			token.CreatedAt,
			token.ExpiresAt,
			optionalTime(token.UsedAt),
			optionalTime(token.RevokedAt),
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetRefreshTokenByHash retrieves a refresh token record by its hashed value.
func (r *TokenRepository) GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"user_id",
		"session_id",
		"family_id",
		"token_hash",
		"ip",
		"user_agent",
		"created_at",
		"expires_at",
		"used_at",
		"revoked_at",
		"metadata",
	).
		From("auth.refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		token     domain.RefreshToken
		ip        sql.NullString
		userAgent sql.NullString
		usedAt    sql.NullTime
		revokedAt sql.NullTime
		metadata  []byte
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.SessionID,
		&token.FamilyID,
		&token.TokenHash,
		&ip,
		&userAgent,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
		&revokedAt,
		&metadata,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	token.IP = nullableStringPtr(ip)
	token.UserAgent = nullableStringPtr(userAgent)
	token.UsedAt = nullableTimePtr(usedAt)
	token.RevokedAt = nullableTimePtr(revokedAt)
	if len(metadata) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal refresh token metadata: %w", err)
		}
		token.Metadata = meta
	}

	return &token, nil
}

// MarkRefreshTokenUsed updates used_at if the token has not been consumed yet.
// Exactly one concurrent presenter wins; all others observe ErrNotFound.
func (r *TokenRepository) MarkRefreshTokenUsed(ctx context.Context, refreshTokenID string, usedAt time.Time) error {
	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("used_at", usedAt.UTC()).
		Where(squirrel.Eq{"id": refreshTokenID}).
		Where("used_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark refresh token used sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark refresh token used: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeRefreshToken marks a single refresh token as revoked.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, refreshTokenID string) error {
	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("revoked_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": refreshTokenID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeRefreshTokensByFamily revokes all active refresh tokens within the family.
func (r *TokenRepository) RevokeRefreshTokensByFamily(ctx context.Context, familyID string, reason string) (int, error) {
	reason = strings.TrimSpace(reason)

	stmt := `
		WITH updated AS (
			UPDATE auth.refresh_tokens
			   SET revoked_at = COALESCE(revoked_at, now()),
			       metadata = CASE
			           WHEN $2::text IS NULL THEN metadata
			           ELSE jsonb_set(
			                   COALESCE(metadata, '{}'::jsonb),
			                   '{revoked_reason}',
			                   to_jsonb($2::text),
			                   true
			               )
			       END
			 WHERE family_id = $1
			   AND revoked_at IS NULL
			 RETURNING 1
		)
		SELECT count(*) FROM updated;
	`

	var reasonArg any
	if reason != "" {
		reasonArg = reason
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, familyID, reasonArg).Scan(&count); err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by family: %w", err)
	}

	return count, nil
}

// RecordAccessToken stores an issued access token JTI in the ledger.
func (r *TokenRepository) RecordAccessToken(ctx context.Context, record domain.AccessTokenRecord) error {
	stmt, args, err := r.builder.Insert("auth.access_tokens").
		Columns("jti", "user_id", "session_id", "issued_at", "expires_at", "revoked_at", "reason").
		Values(
			record.JTI,
			record.UserID,
			record.SessionID,
			record.IssuedAt,
			record.ExpiresAt,
			optionalTime(record.RevokedAt),
			optionalString(record.Reason),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert access token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}

	return nil
}

// RevokeJTI marks a single access token identifier as revoked.
func (r *TokenRepository) RevokeJTI(ctx context.Context, jti string, reason string) error {
	stmt, args, err := r.builder.Update("auth.access_tokens").
		Set("revoked_at", time.Now().UTC()).
		Set("reason", reason).
		Where(squirrel.Eq{"jti": jti}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke jti sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke jti: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// IsJTIRevoked reports whether the ledger records the JTI as revoked.
func (r *TokenRepository) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	stmt, args, err := r.builder.Select("revoked_at").
		From("auth.access_tokens").
		Where(squirrel.Eq{"jti": jti}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select jti sql: %w", err)
	}

	var revokedAt sql.NullTime
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&revokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scan jti: %w", err)
	}

	return revokedAt.Valid, nil
}

// RevokeJTIsBySession revokes all unexpired access tokens issued under a session
// and returns the affected records.
func (r *TokenRepository) RevokeJTIsBySession(ctx context.Context, sessionID string, reason string) ([]domain.RevokedAccessTokenJTI, error) {
	stmt := `
		UPDATE auth.access_tokens
		   SET revoked_at = now(),
		       reason = $2
		 WHERE session_id = $1
		   AND revoked_at IS NULL
		   AND expires_at > now()
		 RETURNING jti, expires_at, revoked_at, reason;
	`

	rows, err := r.exec.Query(ctx, stmt, sessionID, reason)
	if err != nil {
		return nil, fmt.Errorf("revoke jtis by session: %w", err)
	}
	defer rows.Close()

	var revoked []domain.RevokedAccessTokenJTI
	for rows.Next() {
		var (
			record       domain.RevokedAccessTokenJTI
			recordReason sql.NullString
		)
		if err := rows.Scan(&record.JTI, &record.ExpiresAt, &record.RevokedAt, &recordReason); err != nil {
			return nil, fmt.Errorf("scan revoked jti: %w", err)
		}
		record.Reason = nullableStringPtr(recordReason)
		revoked = append(revoked, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked jtis: %w", err)
	}

	return revoked, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
