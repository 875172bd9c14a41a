package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

const testSecret = "unit-test-secret"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(Options{Secret: testSecret})
	require.NoError(t, err)
	return i
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Options{Secret: testSecret})
	require.NoError(t, err)
	return v
}

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)
	verifier := newTestVerifier(t)

	pair, err := issuer.Issue("user-1", "fleet_manager", []string{"vehicles:*", "trips:read"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, int64(defaultAccessTTL.Seconds()), pair.ExpiresIn)

	uc, err := verifier.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uc.UserID)
	assert.Equal(t, "fleet_manager", uc.Role)
	assert.Equal(t, []string{"vehicles:*", "trips:read"}, uc.Permissions)
}

func TestVerify_RefreshTokenRejectedAsAccess(t *testing.T) {
	issuer := newTestIssuer(t)
	verifier := newTestVerifier(t)

	pair, err := issuer.Issue("user-1", "admin", nil)
	require.NoError(t, err)

	_, err = verifier.Verify(pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, faults.Unauthorised, faults.KindOf(err))
}

func TestVerify_GarbageToken(t *testing.T) {
	verifier := newTestVerifier(t)

	_, err := verifier.Verify("not.a.token")
	require.Error(t, err)
	assert.Equal(t, faults.Unauthorised, faults.KindOf(err))
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer, err := NewIssuer(Options{Secret: "other-secret"})
	require.NoError(t, err)
	verifier := newTestVerifier(t)

	pair, err := issuer.Issue("user-1", "admin", nil)
	require.NoError(t, err)

	_, err = verifier.Verify(pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, faults.Unauthorised, faults.KindOf(err))
}

func TestVerify_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	claims := &Claims{
		Role:      "admin",
		TokenType: string(TokenAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
	assert.Equal(t, faults.Unauthorised, faults.KindOf(err))
}

func TestVerify_WrongAlgorithmRejected(t *testing.T) {
	// HS256 verifier must refuse an HS512-signed token even with the right
	// secret.
	verifier := newTestVerifier(t)

	claims := &Claims{
		TokenType: string(TokenAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
	assert.Equal(t, faults.Unauthorised, faults.KindOf(err))
}

func TestVerify_MissingSubject(t *testing.T) {
	verifier := newTestVerifier(t)

	claims := &Claims{
		TokenType: string(TokenAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
	assert.Equal(t, faults.Unauthorised, faults.KindOf(err))
}

func TestRefresh_MintsFreshPair(t *testing.T) {
	issuer := newTestIssuer(t)
	verifier := newTestVerifier(t)

	pair, err := issuer.Issue("user-1", "driver", []string{"trips:read"})
	require.NoError(t, err)

	renewed, err := issuer.Refresh(pair.RefreshToken)
	require.NoError(t, err)

	uc, err := verifier.Verify(renewed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uc.UserID)
	assert.Equal(t, "driver", uc.Role)
	assert.Equal(t, []string{"trips:read"}, uc.Permissions)
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	issuer := newTestIssuer(t)

	pair, err := issuer.Issue("user-1", "driver", nil)
	require.NoError(t, err)

	_, err = issuer.Refresh(pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, faults.Unauthorised, faults.KindOf(err))
}

func TestNewVerifier_Validation(t *testing.T) {
	_, err := NewVerifier(Options{})
	assert.Error(t, err, "empty secret must be refused")

	_, err = NewVerifier(Options{Secret: "s", Algorithm: "RS256"})
	assert.Error(t, err, "non-HMAC algorithms are not supported")

	_, err = NewVerifier(Options{Secret: "s", Algorithm: "HS512"})
	assert.NoError(t, err)
}

func TestParseBearer(t *testing.T) {
	token, ok := ParseBearer("Bearer abc.def.ghi")
	require.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	// Scheme comparison is case-insensitive per RFC 7235.
	token, ok = ParseBearer("bearer xyz")
	require.True(t, ok)
	assert.Equal(t, "xyz", token)

	_, ok = ParseBearer("")
	assert.False(t, ok)
	_, ok = ParseBearer("Basic dXNlcjpwYXNz")
	assert.False(t, ok)
	_, ok = ParseBearer("Bearer")
	assert.False(t, ok)
}
