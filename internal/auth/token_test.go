package auth

import (
	"testing"
	"time"

	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var caller = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newTestManager(t *testing.T, clk clock.Clock) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(testSecret, "ticket-ledger", time.Hour, clk)
	require.NoError(t, err)
	return m
}

func TestNewTokenManager_Validation(t *testing.T) {
	_, err := NewTokenManager("short", "iss", time.Hour, nil)
	assert.Error(t, err)

	_, err = NewTokenManager(testSecret, "iss", 0, nil)
	assert.Error(t, err)

	m, err := NewTokenManager(testSecret, "iss", time.Minute, nil)
	require.NoError(t, err)
	assert.NotNil(t, m.clock)
}

func TestIssueAndVerify(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t, clk)

	token, expiresAt, err := m.Issue(caller, 0)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), expiresAt)

	addr, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, caller, addr)

	clk.Advance(59 * time.Minute)
	_, err = m.Verify(token)
	assert.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIssue_CustomTTLAndZeroAddress(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	m := newTestManager(t, clk)

	_, expiresAt, err := m.Issue(caller, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(10*time.Minute), expiresAt)

	_, _, err = m.Issue(models.ZeroAddress, 0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestVerify_Rejections(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m := newTestManager(t, clock.NewFixed(now))

	sign := func(claims jwt.StandardClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := jwt.StandardClaims{
		Subject:   caller.Hex(),
		Issuer:    "ticket-ledger",
		ExpiresAt: now.Add(time.Hour).Unix(),
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign(valid, "another-secret-another-secret")},
		{"wrong issuer", sign(jwt.StandardClaims{Subject: caller.Hex(), Issuer: "elsewhere", ExpiresAt: valid.ExpiresAt}, testSecret)},
		{"no expiry", sign(jwt.StandardClaims{Subject: caller.Hex(), Issuer: "ticket-ledger"}, testSecret)},
		{"bad subject", sign(jwt.StandardClaims{Subject: "alice", Issuer: "ticket-ledger", ExpiresAt: valid.ExpiresAt}, testSecret)},
		{"zero subject", sign(jwt.StandardClaims{Subject: models.ZeroAddress.Hex(), Issuer: "ticket-ledger", ExpiresAt: valid.ExpiresAt}, testSecret)},
		{"not yet valid", sign(jwt.StandardClaims{Subject: caller.Hex(), Issuer: "ticket-ledger", ExpiresAt: valid.ExpiresAt, NotBefore: now.Add(time.Minute).Unix()}, testSecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			assert.Error(t, err)
		})
	}

	addr, err := m.Verify(sign(valid, testSecret))
	require.NoError(t, err)
	assert.Equal(t, caller, addr)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	m := newTestManager(t, nil)
	claims := jwt.StandardClaims{Subject: caller.Hex(), Issuer: "ticket-ledger", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	token, err = BearerToken("bearer   abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	for _, header := range []string{"Basic dXNlcg==", "Bearer", "Bearer ", "abc"} {
		_, err := BearerToken(header)
		assert.ErrorIs(t, err, ErrInvalidToken, header)
	}

}
