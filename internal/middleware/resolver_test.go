package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/footprint-labs/footprint/internal/errors"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func fixedResolver(leeway time.Duration) *Resolver {
	return NewResolver(ResolverConfig{
		Secret: testSecret,
		Leeway: leeway,
		Now:    func() time.Time { return fixedNow },
	})
}

func sign(t require.TestingT, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func reasonOf(err error) interface{} {
	if se := errors.GetServiceError(err); se != nil {
		return se.Details["reason"]
	}
	return nil
}

func TestResolveToken_Valid(t *testing.T) {
	token, err := IssueToken(testSecret, "kakao_1", time.Hour, fixedNow)
	require.NoError(t, err)

	id, err := fixedResolver(0).ResolveToken(token)
	require.NoError(t, err)
	assert.Equal(t, "kakao_1", id.UserID)
	assert.True(t, id.IssuedAt.Equal(fixedNow))
	assert.True(t, id.ExpiresAt.Equal(fixedNow.Add(time.Hour)))
}

func TestResolveToken_Rejections(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "kakao_1",
		IssuedAt:  jwt.NewNumericDate(fixedNow.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(fixedNow.Add(-time.Minute))
	future := valid
	future.IssuedAt = jwt.NewNumericDate(fixedNow.Add(time.Hour))
	future.ExpiresAt = jwt.NewNumericDate(fixedNow.Add(2 * time.Hour))
	noExp := valid
	noExp.ExpiresAt = nil
	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name       string
		token      string
		want       error
		wantReason string
	}{
		{"garbage", "not-a-jwt", errors.ErrCredentialInvalid, "malformed"},
		{"bad segments", "a.b.c", errors.ErrCredentialInvalid, "malformed"},
		{"alg none", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid), errors.ErrCredentialInvalid, "algorithm"},
		{"alg HS512", sign(t, jwt.SigningMethodHS512, testSecret, valid), errors.ErrCredentialInvalid, "algorithm"},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), valid), errors.ErrCredentialInvalid, "signature"},
		{"expired", sign(t, jwt.SigningMethodHS256, testSecret, expired), errors.ErrCredentialExpired, ""},
		{"expired and wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), expired), errors.ErrCredentialExpired, ""},
		{"issued in the future", sign(t, jwt.SigningMethodHS256, testSecret, future), errors.ErrCredentialExpired, ""},
		{"missing exp", sign(t, jwt.SigningMethodHS256, testSecret, noExp), errors.ErrCredentialInvalid, "claims"},
		{"missing identity", sign(t, jwt.SigningMethodHS256, testSecret, noSubject), errors.ErrCredentialInvalid, "identity_claim"},
	}

	resolver := fixedResolver(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.ResolveToken(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, reasonOf(err))
			}
		})
	}
}

func TestResolveToken_Leeway(t *testing.T) {
	claims := Claims{
		UserID: "kakao_1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(fixedNow.Add(-30 * time.Second)),
		},
	}
	token := sign(t, jwt.SigningMethodHS256, testSecret, claims)

	_, err := fixedResolver(0).ResolveToken(token)
	assert.ErrorIs(t, err, errors.ErrCredentialExpired)

	id, err := fixedResolver(time.Minute).ResolveToken(token)
	require.NoError(t, err)
	assert.Equal(t, "kakao_1", id.UserID)
}

func TestResolve_Header(t *testing.T) {
	token, err := IssueToken(testSecret, "kakao_1", time.Hour, fixedNow)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/users/me", nil)
	_, err = fixedResolver(0).Resolve(req)
	assert.ErrorIs(t, err, errors.ErrCredentialMissing)

	req.Header.Set("X-Access-Token", "  "+token+"  ")
	id, err := fixedResolver(0).Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "kakao_1", id.UserID)
}

func TestResolve_EmptyBearerIsMissing(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   error
	}{
		{"access token header bare scheme", DefaultCredentialHeader, "Bearer ", errors.ErrCredentialMissing},
		{"access token header scheme only", DefaultCredentialHeader, "bearer", errors.ErrCredentialMissing},
		{"authorization bare scheme", "Authorization", "Bearer   ", errors.ErrCredentialMissing},
		{"authorization other scheme", "Authorization", "Basic abc", errors.ErrCredentialInvalid},
		{"access token header garbage", DefaultCredentialHeader, "Bearer x", errors.ErrCredentialInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(ResolverConfig{Secret: testSecret, Header: tt.header})
			req := httptest.NewRequest("GET", "/users/me", nil)
			req.Header.Set(tt.header, tt.value)

			_, err := resolver.Resolve(req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolveToken_NumericUserID(t *testing.T) {
	resolver := fixedResolver(0)
	exp := jwt.NewNumericDate(fixedNow.Add(time.Hour))

	token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"userId": 42, "exp": exp})
	id, err := resolver.ResolveToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", id.UserID)

	token = sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"userId": 4.2, "exp": exp})
	_, err = resolver.ResolveToken(token)
	assert.ErrorIs(t, err, errors.ErrCredentialInvalid)
}

func TestResolveToken_Stateless(t *testing.T) {
	resolver := fixedResolver(0)
	token, err := IssueToken(testSecret, "kakao_1", time.Hour, fixedNow)
	require.NoError(t, err)

	_, err = resolver.ResolveToken("garbage")
	require.Error(t, err)

	id, err := resolver.ResolveToken(token)
	require.NoError(t, err)
	assert.Equal(t, "kakao_1", id.UserID)
}

func TestIssuedTokenIdentityProperty(t *testing.T) {
	resolver := fixedResolver(0)
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.StringN(1, 64, -1).Draw(t, "userID")
		ttl := time.Duration(rapid.Int64Range(2, 90*24*3600).Draw(t, "ttlSeconds")) * time.Second

		token, err := IssueToken(testSecret, userID, ttl, fixedNow)
		require.NoError(t, err)

		id, err := resolver.ResolveToken(token)
		require.NoError(t, err)
		assert.Equal(t, userID, id.UserID)
	})
}

func TestExpiredRegardlessOfSignatureProperty(t *testing.T) {
	resolver := fixedResolver(0)
	rapid.Check(t, func(t *rapid.T) {
		age := time.Duration(rapid.Int64Range(0, 1000*3600).Draw(t, "ageSeconds")) * time.Second
		secret := testSecret
		if rapid.Bool().Draw(t, "forged") {
			secret = rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "secret")
		}

		claims := Claims{
			UserID: "kakao_1",
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(fixedNow.Add(-age - time.Hour)),
				ExpiresAt: jwt.NewNumericDate(fixedNow.Add(-age)),
			},
		}
		token := sign(t, jwt.SigningMethodHS256, secret, claims)

		_, err := resolver.ResolveToken(token)
		assert.ErrorIs(t, err, errors.ErrCredentialExpired)
	})
}
