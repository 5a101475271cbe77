package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// TokenPrefix identifies MemberHQ tokens
	TokenPrefix = "mhq_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32

	// tokenCacheSize bounds the validated-token cache
	tokenCacheSize = 4096
	// tokenCacheTTL bounds how stale a cached validation may be
	tokenCacheTTL = time.Minute
)

// ErrTokenNotFound is returned when a token hash has no matching record
var ErrTokenNotFound = errors.New("token not found")

// ErrTokenRevoked is returned for revoked or expired tokens
var ErrTokenRevoked = errors.New("token revoked or expired")

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: mhq_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	hash := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(hash[:])

	// First 8 chars after "mhq_" identify the token in listings
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// cachedValidation is an LRU entry for a successfully validated token
type cachedValidation struct {
	user        *User
	token       *APIToken
	validatedAt time.Time
}

// TokenManager manages API token lifecycle backed by PostgreSQL. A
// small LRU cache keyed by token hash avoids a DB round trip on every
// request; entries expire after tokenCacheTTL so revocations take
// effect promptly.
type TokenManager struct {
	db        *sql.DB
	generator *TokenGenerator
	cache     *lru.Cache[string, cachedValidation]
}

// NewTokenManager creates a new token manager
func NewTokenManager(db *sql.DB) (*TokenManager, error) {
	cache, err := lru.New[string, cachedValidation](tokenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}
	return &TokenManager{
		db:        db,
		generator: NewTokenGenerator(),
		cache:     cache,
	}, nil
}

// CreateToken creates a new API token and returns the plaintext token
// exactly once; only the hash is stored.
func (tm *TokenManager) CreateToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}

	err = tm.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		apiToken.UserID, apiToken.TokenHash, apiToken.TokenPrefix,
		apiToken.Name, apiToken.ExpiresAt, apiToken.CreatedAt,
	).Scan(&apiToken.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	return apiToken, token, nil
}

// ValidateToken validates a token and returns the associated user and
// token record
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*User, *APIToken, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, nil, fmt.Errorf("invalid token format: %w", err)
	}

	tokenHash := tm.generator.HashToken(token)
	now := time.Now().UTC()

	if entry, ok := tm.cache.Get(tokenHash); ok {
		if now.Sub(entry.validatedAt) < tokenCacheTTL && entry.token.Valid(now) {
			return entry.user, entry.token, nil
		}
		tm.cache.Remove(tokenHash)
	}

	var (
		apiToken APIToken
		user     User
	)
	err := tm.db.QueryRowContext(ctx, `
		SELECT t.id, t.user_id, t.token_prefix, t.name, t.expires_at, t.created_at, t.revoked_at,
		       u.id, u.email, u.full_name, u.is_active, u.created_at, u.updated_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1`,
		tokenHash,
	).Scan(
		&apiToken.ID, &apiToken.UserID, &apiToken.TokenPrefix, &apiToken.Name,
		&apiToken.ExpiresAt, &apiToken.CreatedAt, &apiToken.RevokedAt,
		&user.ID, &user.Email, &user.FullName, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if !apiToken.Valid(now) || !user.IsActive {
		return nil, nil, ErrTokenRevoked
	}

	// Best effort; validation does not fail on a bookkeeping error
	_, _ = tm.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, apiToken.ID)

	tm.cache.Add(tokenHash, cachedValidation{user: &user, token: &apiToken, validatedAt: now})

	return &user, &apiToken, nil
}

// RevokeToken revokes a token and drops it from the cache
func (tm *TokenManager) RevokeToken(ctx context.Context, tokenID int64, revokedBy int64, reason string) error {
	var tokenHash string
	err := tm.db.QueryRowContext(ctx, `
		UPDATE api_tokens
		SET revoked_at = NOW(), revoked_by = $1, revoke_reason = $2
		WHERE id = $3 AND revoked_at IS NULL
		RETURNING token_hash`,
		revokedBy, reason, tokenID,
	).Scan(&tokenHash)
	if err == sql.ErrNoRows {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	tm.cache.Remove(tokenHash)
	return nil
}

// ListUserTokens lists all tokens for a user, newest first
func (tm *TokenManager) ListUserTokens(ctx context.Context, userID int64) ([]*APIToken, error) {
	rows, err := tm.db.QueryContext(ctx, `
		SELECT id, user_id, token_prefix, name, expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*APIToken
	for rows.Next() {
		var t APIToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenPrefix, &t.Name,
			&t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt, &t.RevokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}
