package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier turns a bearer token into Claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// JWTVerifier validates HMAC-signed access tokens issued by the auth service.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTVerifier builds a verifier. An empty issuer disables the issuer check.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Verify parses and validates token.
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrIdentityResolution, err)
	}

	raw, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: invalid token", ErrIdentityResolution)
	}
	return DecodeClaims(raw)
}

// Sign issues a token for claims. The auth service owns issuance; this is
// used by tooling and tests that need a token the verifier accepts.
func (v *JWTVerifier) Sign(c Claims) (string, error) {
	mc := jwt.MapClaims{
		"id":          c.ID,
		"displayName": c.DisplayName,
		"roles":       c.Roles,
		"iat":         v.now().Unix(),
	}
	if !c.ExpiresAt.IsZero() {
		mc["exp"] = c.ExpiresAt.Unix()
	}
	if v.issuer != "" {
		mc["iss"] = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(v.secret)
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the "token" query parameter for browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
