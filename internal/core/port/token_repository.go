package port

import (
	"context"
	"time"

	"github.com/namecraft/auth-service/internal/core/domain"
)

// TokenRepository persists refresh tokens and the issued access-token ledger.
type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// MarkRefreshTokenUsed performs the atomic consume-once step of rotation:
	// it succeeds for exactly one caller per token and returns
	// repository.ErrNotFound for every other concurrent presenter.
	MarkRefreshTokenUsed(ctx context.Context, refreshTokenID string, usedAt time.Time) error
	RevokeRefreshToken(ctx context.Context, refreshTokenID string) error
	RevokeRefreshTokensByFamily(ctx context.Context, familyID string, reason string) (int, error)

	RecordAccessToken(ctx context.Context, record domain.AccessTokenRecord) error
	RevokeJTI(ctx context.Context, jti string, reason string) error
	IsJTIRevoked(ctx context.Context, jti string) (bool, error)
	// RevokeJTIsBySession marks every unexpired access token issued under the
	// session as revoked and returns the affected records so callers can mirror
	// them into the fast-path denylist.
	RevokeJTIsBySession(ctx context.Context, sessionID string, reason string) ([]domain.RevokedAccessTokenJTI, error)
}
