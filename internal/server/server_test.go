package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/config"
	"github.com/openclaw/partnerforge/internal/locate"
	"github.com/openclaw/partnerforge/internal/workflow"
)

type stubRunner struct {
	res  *workflow.Result
	err  error
	got  []workflow.Request
}

func (s *stubRunner) Run(_ context.Context, req workflow.Request) (*workflow.Result, error) {
	s.got = append(s.got, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func newTestServer(runner WorkflowRunner) *Server {
	return New(config.ServerConfig{
		Addr:           "127.0.0.1:0",
		RequestTimeout: 5 * time.Second,
		RatePerMinute:  6000,
	}, runner, zap.NewNop())
}

func postWorkflow(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&stubRunner{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRunWorkflowSuccess(t *testing.T) {
	runner := &stubRunner{res: &workflow.Result{
		AppName:          "Acme x Retention",
		ClientID:         "abc123",
		DistributionLink: "https://acme.myshopify.com/admin/install",
		StoreDomain:      "acme.myshopify.com",
	}}
	s := newTestServer(runner)

	rr := postWorkflow(t, s, `{"brand_name":"Acme","store_domain":"acme.myshopify.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"app_name":"Acme x Retention"`)
	require.Len(t, runner.got, 1)
	assert.Equal(t, "Acme", runner.got[0].BrandName)
}

func TestRunWorkflowMalformedBody(t *testing.T) {
	runner := &stubRunner{}
	s := newTestServer(runner)

	rr := postWorkflow(t, s, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, runner.got, "malformed bodies never reach the workflow")
}

func TestRunWorkflowErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"validation", &workflow.ValidationError{Field: "brand_name", Reason: "must not be empty"}, http.StatusBadRequest, "invalid_request"},
		{"reauth", &workflow.ReauthBlockedError{URL: "https://accounts.shopify.com/login"}, http.StatusConflict, "reauth_required"},
		{"nav timeout", &workflow.NavigationTimeoutError{URL: "https://partners.shopify.com", Timeout: time.Second}, http.StatusGatewayTimeout, "console_timeout"},
		{"element not found", &locate.NotFoundError{Target: "app name input", Tried: 4}, http.StatusBadGateway, "console_element_not_found"},
		{"mismatch", &workflow.VerificationMismatchError{Target: "app name input"}, http.StatusBadGateway, "console_mismatch"},
		{"ambiguous", &workflow.AmbiguousUIStateError{Stage: "create_app"}, http.StatusBadGateway, "console_ambiguous"},
		{"configuration", &workflow.ConfigurationError{Reason: "no session"}, http.StatusInternalServerError, "configuration"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&stubRunner{err: tc.err})
			rr := postWorkflow(t, s, `{"brand_name":"Acme","store_domain":"acme.myshopify.com"}`)
			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.wantKind)
		})
	}
}

func TestRunWorkflowRateLimited(t *testing.T) {
	s := New(config.ServerConfig{
		Addr:           "127.0.0.1:0",
		RequestTimeout: 5 * time.Second,
		RatePerMinute:  1,
	}, &stubRunner{res: &workflow.Result{}}, zap.NewNop())

	first := postWorkflow(t, s, `{"brand_name":"Acme","store_domain":"acme.myshopify.com"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := postWorkflow(t, s, `{"brand_name":"Acme","store_domain":"acme.myshopify.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
