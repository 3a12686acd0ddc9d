package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footprint-labs/footprint/internal/app/domain/account"
	"github.com/footprint-labs/footprint/internal/app/services/accounts"
	"github.com/footprint-labs/footprint/internal/app/services/walks"
	"github.com/footprint-labs/footprint/internal/app/storage/memory"
	"github.com/footprint-labs/footprint/internal/boundary"
	"github.com/footprint-labs/footprint/internal/crypto"
	"github.com/footprint-labs/footprint/internal/httputil"
	"github.com/footprint-labs/footprint/internal/logging"
	"github.com/footprint-labs/footprint/internal/middleware"
)

var testSecret = []byte("footprint-jwt-secret")

type testServer struct {
	*httptest.Server
	cipher *crypto.AES128
	store  *memory.Store
	audit  *AuditLog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c, err := crypto.NewAES128([]byte("footprint-key-16"), crypto.EncodingHex)
	require.NoError(t, err)

	store := memory.New()
	log := logging.NewWithOutput("test", "debug", "json", io.Discard)
	issuer := func(userID string) (string, error) {
		return middleware.IssueToken(testSecret, userID, time.Hour, time.Now())
	}
	acctSvc := accounts.New(store, issuer, log)
	audit, err := NewAuditLog(10, "")
	require.NoError(t, err)

	handler := NewHandler(Services{
		Accounts: acctSvc,
		Walks:    walks.New(acctSvc, store, log),
	}, Config{
		Boundary: boundary.Config{
			Cipher:        c,
			Resolver:      middleware.NewResolver(middleware.ResolverConfig{Secret: testSecret}),
			AuthSkipPaths: []string{"/health", "/metrics", "/users/auth/login"},
		},
		Audit:  audit,
		Logger: log,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, cipher: c, store: store, audit: audit}
}

func (s *testServer) client(token string) *httputil.Client {
	return httputil.NewClient(httputil.ClientConfig{
		Encrypter: s.cipher,
		Token:     token,
		BaseURL:   s.URL,
	})
}

func (s *testServer) login(t *testing.T, userID string) string {
	t.Helper()
	resp, err := s.client("").Post(context.Background(), "/users/auth/login", accounts.LoginRequest{
		UserID:       userID,
		Username:     "walker",
		ProviderType: "kakao",
	})
	require.NoError(t, err)
	var out loginView
	require.NoError(t, httputil.DecodeResponse(resp, &out))
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func TestHandlerWalkLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	api := srv.client(srv.login(t, "kakao_1"))

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	resp, err := api.Post(ctx, "/walks", map[string]interface{}{
		"startAt":     start,
		"endAt":       start.Add(30 * time.Minute),
		"distance":    1.8,
		"calorie":     95,
		"coordinates": [][2]float64{{37.5665, 126.978}, {37.5667, 126.9785}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]int
	require.NoError(t, httputil.DecodeResponse(resp, &created))
	assert.Equal(t, 1, created["walkIdx"])

	resp, err = api.Get(ctx, "/walks/1")
	require.NoError(t, err)
	var got walkView
	require.NoError(t, httputil.DecodeResponse(resp, &got))
	assert.Equal(t, int64(1800), got.Duration)
	assert.Len(t, got.Coordinates, 2)

	resp, err = api.Patch(ctx, "/walks/1/status", map[string]string{"status": "INACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NoError(t, httputil.DecodeResponse(resp, nil))

	resp, err = api.Get(ctx, "/walks/1")
	require.NoError(t, err)
	err = httputil.DecodeResponse(resp, nil)
	var rerr *httputil.ResponseError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)
}

func TestHandlerUsers(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	api := srv.client(srv.login(t, "kakao_1"))

	resp, err := api.Patch(ctx, "/users/me/nickname", map[string]string{"nickname": "산책왕"})
	require.NoError(t, err)
	var me accountView
	require.NoError(t, httputil.DecodeResponse(resp, &me))
	assert.Equal(t, "산책왕", me.Nickname)

	resp, err = api.Get(ctx, "/users/autologin")
	require.NoError(t, err)
	var auto map[string]interface{}
	require.NoError(t, httputil.DecodeResponse(resp, &auto))
	assert.Equal(t, "ACTIVE", auto["status"])
	assert.NotEmpty(t, auto["logAt"])
}

func TestHandlerBlacklistedUser(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "kakao_1")

	acct, err := srv.store.GetAccountByUserID(context.Background(), "kakao_1")
	require.NoError(t, err)
	acct.Status = account.StatusBlack
	_, err = srv.store.UpdateAccount(context.Background(), acct)
	require.NoError(t, err)

	resp, err := srv.client(token).Get(context.Background(), "/users/me")
	require.NoError(t, err)
	var rerr *httputil.ResponseError
	require.ErrorAs(t, httputil.DecodeResponse(resp, nil), &rerr)
	assert.Equal(t, http.StatusForbidden, rerr.StatusCode)
	assert.Equal(t, "BLACK_USER", rerr.Code)
}

func TestHandlerBoundaryRejections(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "kakao_1")

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		token    string
		wantCode string
		status   int
	}{
		{"plaintext body", http.MethodPost, "/walks", `{"distance":1}`, token, "DECODING_ERROR", http.StatusBadRequest},
		{"no token", http.MethodGet, "/users/me", "", "", "CREDENTIAL_MISSING", http.StatusUnauthorized},
		{"forged token", http.MethodGet, "/users/me", "", "a.b.c", "CREDENTIAL_INVALID", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.token != "" {
				req.Header.Set(middleware.DefaultCredentialHeader, tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)

			var rerr *httputil.ResponseError
			require.ErrorAs(t, httputil.DecodeResponse(resp, nil), &rerr)
			assert.Equal(t, tt.status, rerr.StatusCode)
			assert.Equal(t, tt.wantCode, rerr.Code)
		})
	}

	entries := srv.audit.Recent(0)
	require.Len(t, entries, len(tests))
	assert.Equal(t, "DECODING_ERROR", entries[0].Code)
	assert.Equal(t, string(boundary.StateReceived), entries[0].From)
	assert.Equal(t, "/users/me", entries[2].Path)
}

func TestHandlerPublicRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, httputil.DecodeResponse(resp, &health))
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "footprint_boundary_requests_total")
}

func TestAuditLogFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewAuditLog(2, path)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/walks", nil)
	audit.Record(req, boundary.Outcome{State: boundary.StateDispatched, From: boundary.StateIdentityResolved})
	for i := 0; i < 3; i++ {
		audit.Record(req, boundary.Outcome{State: boundary.StateRejected, From: boundary.StateReceived, Code: "DECODING_ERROR"})
	}
	require.NoError(t, audit.Close())

	assert.Len(t, audit.Recent(0), 2)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}
