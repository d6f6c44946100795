// Package browser drives a Chrome instance over CDP for workflow runs. Each
// run owns one isolated browser process and one page; nothing is shared
// between runs.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/config"
	"github.com/openclaw/partnerforge/internal/locate"
)

const closeGracePeriod = 10 * time.Second

// Manager creates per-run browser sessions from shared configuration.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewManager creates a browser session factory.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

// RunSession owns one browser process and one authenticated page for the
// lifetime of a single workflow run.
type RunSession struct {
	id          string
	logger      *zap.Logger
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	browserCtx  context.Context
	page        *Page

	closeOnce sync.Once
}

// NewRunSession launches an isolated browser instance with its own profile
// and returns the session wrapping it. The caller must Close the session
// unconditionally at run end.
func (m *Manager) NewRunSession(ctx context.Context) (*RunSession, error) {
	id := uuid.New().String()
	log := m.logger.With(zap.String("run_id", id[:8]))

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	for _, arg := range m.cfg.Browser.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	var ctxOpts []chromedp.ContextOption
	if m.cfg.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	// Start the browser process now so launch failures surface here rather
	// than on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	s := &RunSession{
		id:          id,
		logger:      log,
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
		browserCtx:  browserCtx,
	}
	s.page = newPage(browserCtx, m.cfg, log)

	log.Info("Browser session launched", zap.Bool("headless", m.cfg.Browser.Headless))
	return s, nil
}

// ID returns the run session identifier.
func (s *RunSession) ID() string {
	return s.id
}

// Page returns the session's single page.
func (s *RunSession) Page() *Page {
	return s.page
}

// ApplyState installs a previously captured session blob: cookies take effect
// immediately, per-origin storage is seeded lazily on navigation.
func (s *RunSession) ApplyState(ctx context.Context, blob []byte) error {
	st, err := DecodeState(blob)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(s.browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx, setCookiesAction(st)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to apply session cookies: %w", err)
	}

	s.page.setPendingOrigins(st.Origins)
	s.logger.Info("Session state applied",
		zap.Int("cookies", len(st.Cookies)),
		zap.Int("storage_origins", len(st.Origins)))
	return nil
}

// CaptureState harvests the current cookies and the active origin's storage
// into a fresh session blob.
func (s *RunSession) CaptureState(ctx context.Context) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(s.browserCtx, 30*time.Second)
	defer cancel()

	st := &State{}
	if err := chromedp.Run(runCtx, captureStateAction(st)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to capture session state: %w", err)
	}

	if origin := s.page.currentOrigin(runCtx); origin != "" {
		os, err := s.page.captureOriginStorage(runCtx, origin)
		if err != nil {
			s.logger.Debug("Could not capture origin storage", zap.String("origin", origin), zap.Error(err))
		} else {
			st.Origins = append(st.Origins, os)
		}
	}

	s.logger.Info("Session state captured", zap.Int("cookies", len(st.Cookies)))
	return st.Encode()
}

// Close tears down the page, browser context, and browser process. Safe to
// call multiple times; teardown happens exactly once.
func (s *RunSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing browser session")

		// Ask the browser to exit cleanly before cancelling the allocator,
		// bounded so a wedged process cannot hang run teardown.
		cancelCtx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = chromedp.Cancel(s.browserCtx)
		}()
		select {
		case <-done:
		case <-cancelCtx.Done():
			s.logger.Warn("Browser did not exit within grace period")
		}

		s.ctxCancel()
		s.allocCancel()
	})
	return nil
}

// Resolver builds an element resolver probing this session's page.
func (s *RunSession) Resolver() *locate.Resolver {
	return locate.NewResolver(s.page, s.page.cfg.Network.ElementTimeout, s.logger)
}
