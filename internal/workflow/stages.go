package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/config"
	"github.com/openclaw/partnerforge/internal/locate"
)

// guardFunc inspects the page after a navigation to dest and resolves any
// blocking condition (account chooser, re-auth wall) before a stage proceeds.
type guardFunc func(ctx context.Context, stage, dest string) error

// run carries the per-request state threaded through the stages. One run
// owns one page; stages execute sequentially on the orchestrator goroutine.
type run struct {
	req   Request
	cfg   *config.Config
	urls  consoleURLs
	page  Page
	log   *zap.Logger
	guard guardFunc
}

// nav drives the page to url and applies the blocking-condition guard before
// returning control to the stage.
func (r *run) nav(ctx context.Context, stage, url string) error {
	if err := navigate(ctx, r.page, url, r.cfg.Network.NavigationTimeout); err != nil {
		return err
	}
	if r.guard == nil {
		return nil
	}
	return r.guard(ctx, stage, url)
}

// waitEnabled polls until the control accepts input; rich consoles enable
// actions asynchronously once their form validation settles. A control that
// stays disabled usually means an upstream field failed silently.
func (r *run) waitEnabled(ctx context.Context, h locate.Handle, stage string) error {
	deadline := time.Now().Add(r.cfg.Network.ElementTimeout)
	for {
		enabled, err := r.page.IsEnabled(ctx, h)
		if err != nil {
			return err
		}
		if enabled {
			return nil
		}
		if time.Now().After(deadline) {
			url, _ := r.page.CurrentURL(ctx)
			return &AmbiguousUIStateError{
				Stage:  stage,
				URL:    url,
				Detail: h.Target + " never became enabled",
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
