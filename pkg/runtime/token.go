package runtime

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/persistence"
)

// DefaultTokenTTL keeps invocation credentials short-lived since they are
// handed to arbitrary user code.
const DefaultTokenTTL = 5 * time.Minute

var (
	ErrTokenMalformed = errors.New("malformed invocation token")
	ErrTokenExpired   = errors.New("invocation token expired")
	ErrTokenRevoked   = errors.New("invocation token revoked")
	ErrBadSignature   = errors.New("invocation token signature mismatch")
)

// Claims are the scoped contents of an invocation credential.
type Claims struct {
	TokenID     string    `json:"jti"`
	WorkflowID  string    `json:"workflow_id"`
	NamespaceID string    `json:"namespace_id"`
	ExecutionID string    `json:"execution_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenIssuer mints and verifies HMAC-SHA256 invocation credentials scoped
// to one workflow and namespace. Revocations are persisted so a revoke
// survives a restart; expired revocation records are swept by maintenance.
type TokenIssuer struct {
	secret      []byte
	ttl         time.Duration
	revocations persistence.RevocationRepository
}

func NewTokenIssuer(secret []byte, ttl time.Duration, revocations persistence.RevocationRepository) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenIssuer{secret: secret, ttl: ttl, revocations: revocations}
}

func (i *TokenIssuer) Issue(workflowID, namespaceID, executionID string) (string, error) {
	claims := Claims{
		TokenID:     uuid.New().String(),
		WorkflowID:  workflowID,
		NamespaceID: namespaceID,
		ExecutionID: executionID,
		ExpiresAt:   time.Now().UTC().Add(i.ttl),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)

	return encoded + "." + i.sign(encoded), nil
}

func (i *TokenIssuer) Verify(ctx context.Context, token string) (*Claims, error) {
	encoded, signature, found := strings.Cut(token, ".")
	if !found {
		return nil, ErrTokenMalformed
	}

	if !hmac.Equal([]byte(signature), []byte(i.sign(encoded))) {
		return nil, ErrBadSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	var claims Claims

	err = json.Unmarshal(payload, &claims)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	if time.Now().UTC().After(claims.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	revoked, err := i.revocations.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}

	if revoked {
		return nil, ErrTokenRevoked
	}

	return &claims, nil
}

func (i *TokenIssuer) Revoke(ctx context.Context, claims *Claims) error {
	return i.revocations.Revoke(ctx, claims.TokenID, claims.ExpiresAt)
}

func (i *TokenIssuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encoded))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
