// Package auth verifies bearer tokens at the core's edge and produces the
// user context embedded in every request envelope, so service blocks never
// re-validate tokens. Token issuance is stateless: refresh tokens carry the
// role and permissions they were minted with.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenType discriminates access tokens from refresh tokens so a refresh
// token can never authorise a request directly.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the JWT payload carried by both token types.
type Claims struct {
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Options configures verification and issuance. Secret is required;
// Algorithm defaults to HS256.
type Options struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func signingMethod(algorithm string) (*jwt.SigningMethodHMAC, error) {
	switch strings.ToUpper(algorithm) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
}

// parseClaims validates signature, expiry, algorithm and token type.
func parseClaims(secret []byte, method *jwt.SigningMethodHMAC, token string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{method.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return nil, faults.New(faults.Unauthorised, "invalid or expired token")
	}
	if claims.TokenType != string(want) {
		return nil, faults.Newf(faults.Unauthorised, "%s token required", want)
	}
	if claims.Subject == "" {
		return nil, faults.New(faults.Unauthorised, "token carries no subject")
	}
	return claims, nil
}

// Verifier checks inbound bearer tokens.
type Verifier struct {
	secret []byte
	method *jwt.SigningMethodHMAC
}

func NewVerifier(opts Options) (*Verifier, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("auth: secret must not be empty")
	}
	method, err := signingMethod(opts.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return &Verifier{secret: []byte(opts.Secret), method: method}, nil
}

// Verify validates an access token and returns the user context it grants.
// Trace id and client ip are left for the HTTP layer to fill in.
func (v *Verifier) Verify(token string) (envelope.UserContext, error) {
	claims, err := parseClaims(v.secret, v.method, token, TokenAccess)
	if err != nil {
		return envelope.UserContext{}, err
	}
	return envelope.UserContext{
		UserID:      claims.Subject,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):]), true
	}
	return "", false
}

// TokenPair is the wire form of an issued access/refresh pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Issuer mints token pairs. The security block uses it behind its login and
// refresh endpoints; no user store lives here.
type Issuer struct {
	secret     []byte
	method     *jwt.SigningMethodHMAC
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(opts Options) (*Issuer, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("auth: secret must not be empty")
	}
	method, err := signingMethod(opts.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	return &Issuer{
		secret:     []byte(opts.Secret),
		method:     method,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
	}, nil
}

// Issue mints an access/refresh pair for a user.
func (i *Issuer) Issue(userID, role string, permissions []string) (*TokenPair, error) {
	access, err := i.sign(userID, role, permissions, TokenAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(userID, role, permissions, TokenRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

// Refresh validates a refresh token and mints a fresh pair with the same
// identity and grants.
func (i *Issuer) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := parseClaims(i.secret, i.method, refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	return i.Issue(claims.Subject, claims.Role, claims.Permissions)
}

func (i *Issuer) sign(userID, role string, permissions []string, kind TokenType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:        role,
		Permissions: permissions,
		TokenType:   string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", faults.Newf(faults.Internal, "sign %s token: %v", kind, err)
	}
	return token, nil
}
