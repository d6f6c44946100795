package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/browser"
	"github.com/openclaw/partnerforge/internal/config"
	"github.com/openclaw/partnerforge/internal/journal"
	"github.com/openclaw/partnerforge/internal/observability"
	"github.com/openclaw/partnerforge/internal/session"
	"github.com/openclaw/partnerforge/internal/workflow"
)

// runSessionAdapter narrows *browser.RunSession to the interface the
// workflow consumes.
type runSessionAdapter struct {
	*browser.RunSession
}

func (a runSessionAdapter) Page() workflow.Page { return a.RunSession.Page() }

// buildOrchestrator assembles the orchestrator from configuration: session
// store, browser factory, and the optional run journal. The returned cleanup
// releases the journal pool and must be called on shutdown.
func buildOrchestrator(ctx context.Context, cfg *config.Config) (*workflow.Orchestrator, func(), error) {
	logger := observability.GetLogger()

	store, err := session.NewStore(cfg.Session.StateFile, logger)
	if err != nil {
		return nil, nil, err
	}

	manager := browser.NewManager(cfg, logger)
	factory := func(ctx context.Context) (workflow.RunSession, error) {
		rs, err := manager.NewRunSession(ctx)
		if err != nil {
			return nil, err
		}
		return runSessionAdapter{rs}, nil
	}

	cleanup := func() {}
	var recorder workflow.Recorder
	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.Journal.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := j.Migrate(ctx); err != nil {
			j.Close()
			return nil, nil, err
		}
		recorder = j
		cleanup = j.Close
		logger.Info("Run journal enabled.")
	}

	return workflow.NewOrchestrator(cfg, store, factory, recorder, logger), cleanup, nil
}

// loggerFor names a sub-logger for one command.
func loggerFor(name string) *zap.Logger {
	return observability.GetLogger().Named(name)
}
