package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yourorg/clinicops/internal/domain"
)

// TokenType distinguishes short-lived access tokens from refresh tokens
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims carried by every token. Clinic, role and permissions are only set
// on access tokens.
type Claims struct {
	ClinicID    *string              `json:"clinic_id"`
	Role        domain.Role          `json:"role,omitempty"`
	Permissions domain.PermissionSet `json:"permissions,omitempty"`
	Type        TokenType            `json:"type"`
	jwt.RegisteredClaims
}

// Principal returns the caller identity asserted by an access token.
func (c *Claims) Principal() domain.Principal {
	return domain.Principal{
		UserID:      c.Subject,
		ClinicID:    c.ClinicID,
		Role:        c.Role,
		Permissions: domain.NewPermissionSet(c.Permissions.Slice()...),
	}
}

// IssuedToken is a signed token plus the identifiers needed to revoke it
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenReason says why a token was rejected
type TokenReason string

const (
	ReasonExpired      TokenReason = "expired"
	ReasonRevoked      TokenReason = "revoked"
	ReasonMalformed    TokenReason = "malformed"
	ReasonBadSignature TokenReason = "bad_signature"
)

// TokenError is returned by Verify for every rejected token.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message(), e.Err)
	}
	return e.Message()
}

// Message is safe to show to clients; it never includes parser detail.
func (e *TokenError) Message() string {
	switch e.Reason {
	case ReasonExpired:
		return "token has expired"
	case ReasonRevoked:
		return "token has been revoked"
	case ReasonBadSignature:
		return "invalid token signature"
	default:
		return "invalid token"
	}
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Code is the API error code, e.g. TOKEN_EXPIRED.
func (e *TokenError) Code() string {
	return "TOKEN_" + strings.ToUpper(string(e.Reason))
}

type TokenManager struct {
	secret      []byte
	issuer      string
	revocations RevocationStore
	now         func() time.Time
}

func NewTokenManager(secret, issuer string, revocations RevocationStore) *TokenManager {
	if secret == "" {
		secret = "change-me-in-production"
	}
	if issuer == "" {
		issuer = "clinicops"
	}
	if revocations == nil {
		revocations = NewMemoryRevocationStore()
	}
	return &TokenManager{
		secret:      []byte(secret),
		issuer:      issuer,
		revocations: revocations,
		now:         time.Now,
	}
}

// WithClock replaces the time source used for issuing and validating.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// IssueAccess signs an access token asserting p.
func (tm *TokenManager) IssueAccess(p domain.Principal, ttl time.Duration) (IssuedToken, error) {
	if p.UserID == "" {
		return IssuedToken{}, fmt.Errorf("user id required")
	}
	return tm.sign(Claims{
		ClinicID:    p.ClinicID,
		Role:        p.Role,
		Permissions: domain.NewPermissionSet(p.Permissions.Slice()...),
		Type:        TokenAccess,
	}, p.UserID, ttl)
}

// IssueRefresh signs a refresh token identifying only the user.
func (tm *TokenManager) IssueRefresh(userID string, ttl time.Duration) (IssuedToken, error) {
	if userID == "" {
		return IssuedToken{}, fmt.Errorf("user id required")
	}
	return tm.sign(Claims{Type: TokenRefresh}, userID, ttl)
}

func (tm *TokenManager) sign(claims Claims, subject string, ttl time.Duration) (IssuedToken, error) {
	now := tm.now()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    tm.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return IssuedToken{Token: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, expiry, type and revocation. Rejections are
// *TokenError; a revocation lookup failure is a domain StoreUnavailable error.
func (tm *TokenManager) Verify(ctx context.Context, tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return tm.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &TokenError{Reason: ReasonExpired}
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, &TokenError{Reason: ReasonBadSignature}
		default:
			return nil, &TokenError{Reason: ReasonMalformed, Err: err}
		}
	}
	if claims.Type != expected {
		return nil, &TokenError{Reason: ReasonMalformed, Err: fmt.Errorf("expected %s token, got %q", expected, claims.Type)}
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, &TokenError{Reason: ReasonMalformed, Err: fmt.Errorf("missing jti or sub")}
	}

	revoked, err := tm.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, domain.StoreUnavailable(fmt.Errorf("failed to check token revocation: %w", err))
	}
	if revoked {
		return nil, &TokenError{Reason: ReasonRevoked}
	}
	return claims, nil
}

// Revoke records jti as revoked until expiresAt. Revoking an already expired
// or already revoked token is a no-op.
func (tm *TokenManager) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(tm.now())
	if ttl <= 0 {
		return nil
	}
	if err := tm.revocations.Revoke(ctx, jti, ttl); err != nil {
		return domain.StoreUnavailable(fmt.Errorf("failed to revoke token: %w", err))
	}
	return nil
}

func ExtractToken(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}
