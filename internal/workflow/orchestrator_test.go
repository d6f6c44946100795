package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/config"
)

const (
	testAppDetailURL = "https://partners.shopify.com/123/apps/456"
	testLink         = "https://acme.myshopify.com/admin/oauth/install?client_id=abc123"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Network.NavigationTimeout = 2 * time.Second
	cfg.Network.ElementTimeout = 500 * time.Millisecond
	cfg.Console.DashboardURL = "https://partners.shopify.com/123"
	cfg.Console.CallbackURL = "https://retention.example.com/auth/callback"
	cfg.Console.RedirectURL = "https://retention.example.com/auth/redirect"
	cfg.Console.ScopesCSV = "read_orders,write_customers"
	cfg.Console.EmbedApp = true
	cfg.Console.AppNameSuffix = "Retention"
	cfg.Session.StateFile = "/tmp/partnerforge-test-state.json"
	return cfg
}

// scriptConsole wires a fakePage to behave like a cooperative console for
// the whole workflow: submit redirects to the app detail page, releasing a
// version returns to it, selecting a distribution method reveals the domain
// input, and generating produces a link.
func scriptConsole(p *fakePage) {
	p.values["client id field"] = "abc123"
	p.values["client secret field"] = "s3cr3t"
	p.absent["store domain input"] = true
	p.absent["release confirmation"] = true
	p.absent["distribution modal confirm"] = true
	p.absent["generate link modal confirm"] = true
	p.onClick = func(name string) {
		switch name {
		case "create app submit":
			p.url = testAppDetailURL
		case "release version button":
			p.url = testAppDetailURL
		case "select distribution method":
			p.absent["store domain input"] = false
		case "generate link button":
			p.values["activation link field"] = testLink
		}
	}
}

func newTestOrchestrator(cfg *config.Config, store *fakeStore, sess *fakeSession, rec Recorder) *Orchestrator {
	factory := func(context.Context) (RunSession, error) { return sess, nil }
	return NewOrchestrator(cfg, store, factory, rec, zap.NewNop())
}

func TestRunEndToEnd(t *testing.T) {
	page := newFakePage()
	scriptConsole(page)
	sess := &fakeSession{page: page}
	store := &fakeStore{blob: []byte(`{"cookies":[]}`)}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(testConfig(), store, sess, rec)

	res, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "Acme x Retention", res.AppName)
	assert.Equal(t, "abc123", res.ClientID)
	assert.Equal(t, "s3cr3t", res.ClientSecret)
	assert.Equal(t, testLink, res.DistributionLink)
	assert.Equal(t, "acme.myshopify.com", res.StoreDomain)
	assert.Empty(t, res.Note)

	// Session lifecycle: state applied once, torn down exactly once.
	assert.Len(t, sess.applied, 1)
	assert.Equal(t, int32(1), sess.closeCount.Load())

	// Every stage ran to completion in declared order.
	var done []string
	for _, s := range rec.stages {
		if s.Status == StageDone {
			done = append(done, s.Name)
		}
	}
	assert.Equal(t, []string{stageCreate, stageVersion, stageCredentials, stageDistribution, stageLink}, done)
	assert.Len(t, rec.started, 1)
	assert.Equal(t, 1, rec.finished)

	// The embed capability was applied per configuration.
	assert.True(t, page.checked["embed capability toggle"])
}

func TestRunValidationRejectsBeforeAnyBrowserWork(t *testing.T) {
	store := &fakeStore{blob: []byte(`{}`)}
	factoryCalled := false
	factory := func(context.Context) (RunSession, error) {
		factoryCalled = true
		return nil, nil
	}
	o := NewOrchestrator(testConfig(), store, factory, nil, zap.NewNop())

	cases := []Request{
		{BrandName: "", StoreDomain: "acme.myshopify.com"},
		{BrandName: "   ", StoreDomain: "acme.myshopify.com"},
		{BrandName: "Acme", StoreDomain: ""},
		{BrandName: "Acme", StoreDomain: "acme.example.com"},
		{BrandName: "Acme", StoreDomain: ".myshopify.com"},
	}
	for _, req := range cases {
		_, err := o.Run(context.Background(), req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "request %+v", req)
	}
	assert.False(t, factoryCalled)
	assert.Zero(t, store.loads)
}

func TestRunIncompleteConfigIsConfigurationError(t *testing.T) {
	cfg := testConfig()
	cfg.Console.CallbackURL = ""
	o := newTestOrchestrator(cfg, &fakeStore{blob: []byte(`{}`)}, &fakeSession{page: newFakePage()}, nil)

	_, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
}

func TestRunMissingSessionBlobIsConfigurationError(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("no such file")}
	o := newTestOrchestrator(testConfig(), store, &fakeSession{page: newFakePage()}, nil)

	_, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
}

const chooserHTML = `<html><body><h1>Choose an account</h1><button>Continue</button></body></html>`

// chooserConsole layers an account chooser in front of a scripted console:
// the first n console navigations land on the chooser instead. n < 0 means
// the chooser never resolves.
func chooserConsole(p *fakePage, n int) *int {
	served := 0
	remaining := n
	scriptConsole(p)
	p.snapshots = func(url string) string {
		if strings.Contains(url, "accounts.shopify.com") {
			return chooserHTML
		}
		return "<html><h1>Apps</h1></html>"
	}
	p.onNavigate = func(dest string) {
		if strings.Contains(dest, "accounts.shopify.com") {
			return
		}
		if remaining != 0 {
			if remaining > 0 {
				remaining--
			}
			served++
			p.url = "https://accounts.shopify.com/select"
		}
	}
	return &served
}

func TestRunBypassesAccountChooser(t *testing.T) {
	page := newFakePage()
	served := chooserConsole(page, 3)
	sess := &fakeSession{page: page}
	o := newTestOrchestrator(testConfig(), &fakeStore{blob: []byte(`{}`)}, sess, nil)

	res, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, *served, "chooser should have been served exactly three times")
	assert.Equal(t, int32(1), sess.closeCount.Load())
}

func TestRunGivesUpOnPersistentAccountChooser(t *testing.T) {
	page := newFakePage()
	served := chooserConsole(page, -1)
	sess := &fakeSession{page: page}
	o := newTestOrchestrator(testConfig(), &fakeStore{blob: []byte(`{}`)}, sess, nil)

	_, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	var uerr *AmbiguousUIStateError
	require.ErrorAs(t, err, &uerr)

	// One original navigation plus exactly five bypass attempts.
	assert.Equal(t, 1+maxChooserBypassAttempts, *served)
	assert.Equal(t, int32(1), sess.closeCount.Load())
}

func TestRunFailsFastOnReauthWall(t *testing.T) {
	page := newFakePage()
	scriptConsole(page)
	page.onNavigate = func(dest string) {
		if !strings.Contains(dest, "accounts.shopify.com") {
			page.url = "https://accounts.shopify.com/login"
		}
	}
	page.snapshots = func(url string) string {
		if strings.Contains(url, "accounts.shopify.com") {
			return `<html><h1>Log in to continue</h1></html>`
		}
		return "<html><h1>Apps</h1></html>"
	}
	sess := &fakeSession{page: page}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(testConfig(), &fakeStore{blob: []byte(`{}`)}, sess, rec)

	_, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	var rerr *ReauthBlockedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int32(1), sess.closeCount.Load())

	// The failed stage is recorded and the rest are skipped.
	var failed, skipped []string
	for _, s := range rec.stages {
		switch s.Status {
		case StageFailed:
			failed = append(failed, s.Name)
		case StageSkipped:
			skipped = append(skipped, s.Name)
		}
	}
	assert.Equal(t, []string{stageCreate}, failed)
	assert.Equal(t, []string{stageVersion, stageCredentials, stageDistribution, stageLink}, skipped)
}

func TestRunCancelledContextStopsBetweenStages(t *testing.T) {
	page := newFakePage()
	scriptConsole(page)
	sess := &fakeSession{page: page}
	o := newTestOrchestrator(testConfig(), &fakeStore{blob: []byte(`{}`)}, sess, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), sess.closeCount.Load())
}

func TestRunSoftFailsWhenLinkUnreadable(t *testing.T) {
	page := newFakePage()
	scriptConsole(page)
	// Generating never surfaces a readable link anywhere on the page.
	page.onClick = func(name string) {
		switch name {
		case "create app submit", "release version button":
			page.url = testAppDetailURL
		case "select distribution method":
			page.absent["store domain input"] = false
		}
	}
	page.absent["activation link field"] = true
	sess := &fakeSession{page: page}
	o := newTestOrchestrator(testConfig(), &fakeStore{blob: []byte(`{}`)}, sess, nil)

	res, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.DistributionLink)
	assert.NotEmpty(t, res.Note)
}

func TestRunBrowserLaunchFailureIsConfigurationError(t *testing.T) {
	factory := func(context.Context) (RunSession, error) {
		return nil, errors.New("chrome not found")
	}
	o := NewOrchestrator(testConfig(), &fakeStore{blob: []byte(`{}`)}, factory, nil, zap.NewNop())

	_, err := o.Run(context.Background(), Request{BrandName: "Acme", StoreDomain: "acme.myshopify.com"})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
}
