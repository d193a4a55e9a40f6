package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/sendquill/sendquill/internal/auth"
)

// TokenRepo stores Google OAuth tokens per user. It implements auth.TokenStore.
type TokenRepo struct{ db *sql.DB }

// NewTokenRepo creates a Postgres-backed token store.
func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

func (r *TokenRepo) GetToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, expiry
		FROM oauth_tokens WHERE user_id = $1
	`, userID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return &tok, nil
}

func (r *TokenRepo) SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error {
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (user_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN oauth_tokens.refresh_token ELSE EXCLUDED.refresh_token END,
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()
	`, userID, tok.AccessToken, tok.RefreshToken, tok.Type(), expiry)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}
