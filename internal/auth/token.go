package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingToken = errors.New("missing bearer token")
)

// TokenManager issues and verifies caller tokens. A token is an HS256 JWT
// whose subject is the caller's account address.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokenManager creates a token manager. ttl is the default lifetime of
// issued tokens.
func NewTokenManager(secret, issuer string, ttl time.Duration, clk clock.Clock) (*TokenManager, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		clock:  clk,
	}, nil
}

// Issue signs a token for addr. A zero ttl uses the default lifetime.
func (m *TokenManager) Issue(addr common.Address, ttl time.Duration) (string, time.Time, error) {
	if addr == models.ZeroAddress {
		return "", time.Time{}, fmt.Errorf("%w: zero address", models.ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	now := m.clock.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.StandardClaims{
		Id:        uuid.NewString(),
		Subject:   addr.Hex(),
		Issuer:    m.issuer,
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and time claims of a token and returns the
// caller address it was issued for.
func (m *TokenManager) Verify(tokenString string) (common.Address, error) {
	var claims jwt.StandardClaims
	// time claims are checked below against the injected clock
	parser := jwt.Parser{SkipClaimsValidation: true}
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return models.ZeroAddress, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	now := m.clock.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return models.ZeroAddress, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now, false) {
		return models.ZeroAddress, fmt.Errorf("%w: not valid yet", ErrInvalidToken)
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return models.ZeroAddress, fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}

	addr, err := models.ParseAddress(claims.Subject)
	if err != nil {
		return models.ZeroAddress, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return addr, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}
