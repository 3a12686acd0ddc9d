package middleware

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/footprint-labs/footprint/internal/errors"
)

// DefaultCredentialHeader carries the access token on mobile requests.
const DefaultCredentialHeader = "X-ACCESS-TOKEN"

var errUnexpectedAlgorithm = stderrors.New("unexpected signing algorithm")

// Claims are the access token claims. UserID falls back to the registered subject.
type Claims struct {
	UserID UserIDClaim `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// UserIDClaim accepts the user identifier as a JSON string or integer.
type UserIDClaim string

func (c *UserIDClaim) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = UserIDClaim(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("userId must be a string or integer: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("userId must be a string or integer: %w", err)
	}
	*c = UserIDClaim(n.String())
	return nil
}

// ResolverConfig configures credential verification.
type ResolverConfig struct {
	Secret []byte
	// Header carrying the token. "Authorization" requires the Bearer scheme.
	Header string
	Leeway time.Duration
	Now    func() time.Time
}

// Resolver verifies HS256 access tokens and derives the caller identity.
// It keeps no state between calls.
type Resolver struct {
	secret []byte
	header string
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewResolver creates a resolver. Only HS256 is accepted and exp is required.
func NewResolver(cfg ResolverConfig) *Resolver {
	header := cfg.Header
	if header == "" {
		header = DefaultCredentialHeader
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Resolver{
		secret: cfg.Secret,
		header: header,
		leeway: cfg.Leeway,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(now),
		),
	}
}

// Header returns the credential header name.
func (v *Resolver) Header() string {
	return v.header
}

// Resolve extracts the credential from the request and verifies it.
func (v *Resolver) Resolve(r *http.Request) (Identity, error) {
	token, err := v.extract(r)
	if err != nil {
		return Identity{}, err
	}
	return v.ResolveToken(token)
}

func (v *Resolver) extract(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get(v.header))
	if raw == "" {
		return "", errors.CredentialMissing(v.header)
	}

	// A bare "Bearer" is a scheme with no token.
	scheme, rest, _ := strings.Cut(raw, " ")
	if strings.EqualFold(scheme, "Bearer") {
		raw = strings.TrimSpace(rest)
	} else if strings.EqualFold(v.header, "Authorization") {
		return "", errors.CredentialInvalid("malformed", stderrors.New("authorization scheme must be Bearer"))
	}

	if raw == "" {
		return "", errors.CredentialMissing(v.header)
	}
	return raw, nil
}

// ResolveToken verifies a raw token. Failures are CREDENTIAL_INVALID or CREDENTIAL_EXPIRED;
// a token whose validity window has passed is reported expired whatever its signature.
func (v *Resolver) ResolveToken(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		return Identity{}, v.classify(token, claims, err)
	}
	if !token.Valid {
		return Identity{}, errors.CredentialInvalid("signature", nil)
	}

	userID := string(claims.UserID)
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, errors.CredentialInvalid("identity_claim", stderrors.New("token has no userId or sub claim"))
	}

	id := Identity{UserID: userID}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func (v *Resolver) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, errUnexpectedAlgorithm
	}
	return v.secret, nil
}

func (v *Resolver) classify(token *jwt.Token, claims *Claims, err error) error {
	switch {
	case token == nil || stderrors.Is(err, jwt.ErrTokenMalformed):
		return errors.CredentialInvalid("malformed", err)
	case token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg():
		return errors.CredentialInvalid("algorithm", err)
	case v.outsideWindow(claims):
		return errors.CredentialExpired(err)
	case stderrors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return errors.CredentialInvalid("claims", err)
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.CredentialInvalid("signature", err)
	default:
		return errors.CredentialInvalid("unverifiable", err)
	}
}

// outsideWindow applies the parser's time rules to claims that may be unverified.
func (v *Resolver) outsideWindow(claims *Claims) bool {
	now := v.now()
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Add(v.leeway)) {
		return true
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Add(-v.leeway)) {
		return true
	}
	if claims.IssuedAt != nil && now.Before(claims.IssuedAt.Add(-v.leeway)) {
		return true
	}
	return false
}

// IssueToken mints an HS256 access token for userID, valid for ttl from now.
func IssueToken(secret []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		UserID: UserIDClaim(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
