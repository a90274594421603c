package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/verimail/verification-service/internal/core/domain/token"
	"github.com/verimail/verification-service/internal/infrastructure/httpserver"
	"github.com/verimail/verification-service/test/mocks"
)

func newTestServer(t *testing.T, tokenSvc *mocks.TokenServiceMock, limiter *mocks.RateLimiterMock) *httptest.Server {
	t.Helper()
	if limiter == nil {
		limiter = &mocks.RateLimiterMock{}
	}
	deps := httpserver.ServerDeps{
		TokenService:   tokenSvc,
		RateLimiter:    limiter,
		HealthCheckers: nil,
	}
	srv := httpserver.NewServer(&httpserver.ServerConfig{
		Host: "127.0.0.1", Port: "0",
		ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second,
	}, logrus.New(), deps)

	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(buf))
	require.NoError(t, err)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestRequestVerification_Success(t *testing.T) {
	var gotIP string
	svc := &mocks.TokenServiceMock{IssueFn: func(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error) {
		gotIP = requesterIP
		require.Equal(t, token.PurposeEmailVerification, req.Purpose)
		return &token.IssueResult{TokenSent: true, TokenSequence: 3}, nil
	}}
	ts := newTestServer(t, svc, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/verification/request", map[string]any{
		"user_id": uuid.New().String(),
		"email":   "a@b.com",
		"purpose": "email_verification",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["token_sent"])
	require.Equal(t, float64(3), body["token_sequence"])
	require.NotEmpty(t, gotIP)
	// the plaintext token must never appear in the issuance response
	_, leaked := body["token"]
	require.False(t, leaked)
}

func TestRequestVerification_ValidationRejected(t *testing.T) {
	svc := &mocks.TokenServiceMock{IssueFn: func(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error) {
		t.Fatalf("service must not be called for malformed input")
		return nil, nil
	}}
	ts := newTestServer(t, svc, nil)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/verification/request", map[string]any{
		"email":   "not-an-email",
		"purpose": "email_verification",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestVerification_RateLimitedByMiddleware(t *testing.T) {
	svc := &mocks.TokenServiceMock{IssueFn: func(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error) {
		t.Fatalf("rate-limited request must not reach the service")
		return nil, nil
	}}
	limiter := &mocks.RateLimiterMock{AllowFn: func(ctx context.Context, key string) (bool, int, time.Duration, error) {
		return false, 0, 3 * time.Minute, nil
	}}
	ts := newTestServer(t, svc, limiter)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/verification/request", map[string]any{
		"user_id": uuid.New().String(),
		"email":   "a@b.com",
		"purpose": "email_verification",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "180", resp.Header.Get("Retry-After"))
}

func TestRequestVerification_ServiceRateLimit(t *testing.T) {
	svc := &mocks.TokenServiceMock{IssueFn: func(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error) {
		return nil, &token.RateLimitError{RetryAfter: time.Minute}
	}}
	ts := newTestServer(t, svc, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/verification/request", map[string]any{
		"user_id": uuid.New().String(),
		"email":   "a@b.com",
		"purpose": "email_verification",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, token.CodeRateLimited, body["error_code"])
	require.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestRequestVerification_Conflict(t *testing.T) {
	svc := &mocks.TokenServiceMock{IssueFn: func(ctx context.Context, req *token.IssueRequest, requesterIP string) (*token.IssueResult, error) {
		return nil, token.ErrIssuanceConflict
	}}
	ts := newTestServer(t, svc, nil)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/verification/request", map[string]any{
		"user_id": uuid.New().String(),
		"email":   "a@b.com",
		"purpose": "email_verification",
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestVerifyToken_Success(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()
	svc := &mocks.TokenServiceMock{VerifyFn: func(ctx context.Context, plaintext string) (*token.VerifyResult, error) {
		require.Equal(t, "sometoken", plaintext)
		return &token.VerifyResult{Verified: true, UserID: userID, Email: "a@b.com", VerifiedAt: now}, nil
	}}
	ts := newTestServer(t, svc, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/verification/verify", map[string]any{"token": "sometoken"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["verified"])
	require.Equal(t, "a@b.com", body["email"])
	require.NotEmpty(t, body["verified_at"])
}

func TestVerifyToken_GetQueryParam(t *testing.T) {
	svc := &mocks.TokenServiceMock{VerifyFn: func(ctx context.Context, plaintext string) (*token.VerifyResult, error) {
		require.Equal(t, "qtoken", plaintext)
		return &token.VerifyResult{Verified: true, Email: "a@b.com", VerifiedAt: time.Now()}, nil
	}}
	ts := newTestServer(t, svc, nil)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/v1/verification/verify?token=qtoken", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["verified"])
}

func TestVerifyToken_FailureCodes(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid", token.ErrInvalidToken, http.StatusBadRequest, token.CodeInvalidToken},
		{"expired", token.ErrTokenExpired, http.StatusGone, token.CodeExpiredToken},
		{"already used", token.ErrTokenAlreadyUsed, http.StatusConflict, token.CodeAlreadyUsed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mocks.TokenServiceMock{VerifyFn: func(ctx context.Context, plaintext string) (*token.VerifyResult, error) {
				return nil, tc.err
			}}
			ts := newTestServer(t, svc, nil)

			resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/verification/verify", map[string]any{"token": "x"})
			require.Equal(t, tc.wantStatus, resp.StatusCode)
			require.Equal(t, false, body["verified"])
			require.Equal(t, tc.wantCode, body["error_code"])
		})
	}
}

func TestVerifyToken_StorageErrorIsUnavailable(t *testing.T) {
	svc := &mocks.TokenServiceMock{VerifyFn: func(ctx context.Context, plaintext string) (*token.VerifyResult, error) {
		return nil, errors.New("connection refused")
	}}
	ts := newTestServer(t, svc, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/verification/verify", map[string]any{"token": "x"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	// internal failures must not surface a verification error code
	_, present := body["error_code"]
	require.False(t, present)
}

func TestVerifyToken_MissingToken(t *testing.T) {
	svc := &mocks.TokenServiceMock{VerifyFn: func(ctx context.Context, plaintext string) (*token.VerifyResult, error) {
		t.Fatalf("service must not be called without a token")
		return nil, nil
	}}
	ts := newTestServer(t, svc, nil)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/v1/verification/verify", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, token.CodeInvalidToken, body["error_code"])
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &mocks.TokenServiceMock{}, nil)
	resp, body := doJSON(t, ts, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "healthy", body["status"])
}
