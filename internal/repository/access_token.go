package repository

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"coop-settlement/internal/domain"
)

// FindTokenByPlainToken resolves "<id>|<secret>" or a bare secret to an
// unexpired token.
func (s *Store) FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.AccessToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, errors.New("empty token")
	}

	secret := plainToken
	var tokenID *int64
	if idx := strings.Index(plainToken, "|"); idx > 0 {
		if id, err := strconv.ParseInt(plainToken[:idx], 10, 64); err == nil {
			tokenID = &id
			secret = plainToken[idx+1:]
		}
	}

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(secret)))

	query := `
		SELECT id, token, owner_ref, abilities, expires_at
		FROM access_tokens
		WHERE token = $1
		  AND (expires_at IS NULL OR expires_at > $2)
	`
	args := []any{hash, time.Now()}
	if tokenID != nil {
		query += " AND id = $3"
		args = append(args, *tokenID)
	}

	var t domain.AccessToken
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.TokenHash, &t.OwnerRef, &t.Abilities, &t.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}

	if _, err := s.q.ExecContext(ctx, `UPDATE access_tokens SET last_used_at = now() WHERE id = $1`, t.ID); err != nil {
		return nil, fmt.Errorf("touch token %d: %w", t.ID, err)
	}
	return &t, nil
}
