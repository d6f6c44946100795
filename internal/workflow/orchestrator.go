package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/config"
)

// StageStatus is the lifecycle of one stage inside a run.
type StageStatus int

const (
	StagePending StageStatus = iota
	StageRunning
	StageDone
	StageFailed
	StageSkipped
)

func (s StageStatus) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageRunning:
		return "running"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	case StageSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StageRecord is a point-in-time view of one stage, handed to the recorder
// on every transition.
type StageRecord struct {
	Name      string
	Status    StageStatus
	StartedAt time.Time
	EndedAt   time.Time
	Err       string
}

// Recorder receives run lifecycle events, for auditing. Implementations must
// tolerate being called from a single goroutine only. A nil Recorder on the
// orchestrator disables recording.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, req Request)
	StageChanged(ctx context.Context, runID string, rec StageRecord)
	RunFinished(ctx context.Context, runID string, res *Result, runErr error)
}

// Orchestrator executes the full provisioning workflow: launch an isolated
// browser, restore the captured console session, and drive the stages in
// strict order. Stages never run out of order and a failed stage stops the
// run; only the link stage may soft-fail into the result note.
type Orchestrator struct {
	cfg     *config.Config
	store   SessionStore
	factory SessionFactory
	rec     Recorder
	log     *zap.Logger
}

func NewOrchestrator(cfg *config.Config, store SessionStore, factory SessionFactory, rec Recorder, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		factory: factory,
		rec:     rec,
		log:     logger.Named("orchestrator"),
	}
}

// Run executes one workflow. Input validation and configuration checks run
// before any browser resource is acquired; once a session exists it is torn
// down exactly once on every path out of this function.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res *Result, err error) {
	if verr := req.Validate(); verr != nil {
		return nil, verr
	}
	if cerr := o.cfg.ValidateForRun(); cerr != nil {
		return nil, &ConfigurationError{Reason: "run configuration incomplete", Err: cerr}
	}
	group, gerr := o.cfg.Console.GroupID()
	if gerr != nil {
		return nil, &ConfigurationError{Reason: "cannot determine console group", Err: gerr}
	}
	urls, uerr := newConsoleURLs(o.cfg.Console.DashboardURL, group)
	if uerr != nil {
		return nil, &ConfigurationError{Reason: "cannot build console URLs", Err: uerr}
	}

	blob, lerr := o.store.Load()
	if lerr != nil {
		return nil, &ConfigurationError{Reason: "no usable captured session", Err: lerr}
	}

	runID := uuid.NewString()
	log := o.log.With(zap.String("run_id", runID), zap.String("store_domain", req.StoreDomain))
	log.Info("Run starting.", zap.String("brand", req.BrandName))
	if o.rec != nil {
		o.rec.RunStarted(ctx, runID, req)
	}
	defer func() {
		if o.rec != nil {
			o.rec.RunFinished(ctx, runID, res, err)
		}
	}()

	sess, ferr := o.factory(ctx)
	if ferr != nil {
		err = &ConfigurationError{Reason: "browser launch failed", Err: ferr}
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			log.Warn("Session teardown reported an error.", zap.Error(cerr))
		}
	}()

	if aerr := sess.ApplyState(ctx, blob); aerr != nil {
		err = &ConfigurationError{Reason: "captured session could not be applied", Err: aerr}
		return nil, err
	}

	r := &run{
		req:  req,
		cfg:  o.cfg,
		urls: urls,
		page: sess.Page(),
		log:  log,
	}
	r.guard = o.guardFor(r, sess)

	var rec ResourceRecord
	var creds Credentials
	var link string

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{stageCreate, func(ctx context.Context) error {
			var serr error
			rec, serr = r.createApp(ctx)
			return serr
		}},
		{stageVersion, func(ctx context.Context) error {
			return r.configureVersion(ctx, rec, VersionConfig{
				CallbackURL: o.cfg.Console.CallbackURL,
				RedirectURL: o.cfg.Console.RedirectURL,
				ScopesCSV:   o.cfg.Console.ScopesCSV,
				Embed:       o.cfg.Console.EmbedApp,
			})
		}},
		{stageCredentials, func(ctx context.Context) error {
			var serr error
			creds, serr = r.scrapeCredentials(ctx, rec)
			return serr
		}},
		{stageDistribution, func(ctx context.Context) error {
			return r.selectDistribution(ctx, rec)
		}},
		{stageLink, func(ctx context.Context) error {
			var serr error
			link, serr = r.generateLink(ctx, rec)
			return serr
		}},
	}

	for i, st := range stages {
		if serr := ctx.Err(); serr != nil {
			err = serr
			return nil, err
		}
		record := StageRecord{Name: st.name, Status: StageRunning, StartedAt: time.Now()}
		o.recordStage(ctx, runID, record)
		serr := st.fn(ctx)
		record.EndedAt = time.Now()
		if serr != nil {
			record.Status = StageFailed
			record.Err = serr.Error()
			o.recordStage(ctx, runID, record)
			for _, rest := range stages[i+1:] {
				o.recordStage(ctx, runID, StageRecord{Name: rest.name, Status: StageSkipped})
			}
			log.Error("Stage failed.", zap.String("stage", st.name), zap.Error(serr))
			err = serr
			return nil, err
		}
		record.Status = StageDone
		o.recordStage(ctx, runID, record)
	}

	res = &Result{
		AppName:          rec.DisplayName,
		ClientID:         creds.ClientID,
		ClientSecret:     creds.ClientSecret,
		DistributionLink: link,
		StoreDomain:      req.StoreDomain,
	}
	if link == "" {
		res.Note = "activation link could not be read back; generate it manually from the distribution page"
	}
	log.Info("Run finished.", zap.String("app_name", res.AppName), zap.Bool("link_generated", link != ""))
	return res, nil
}

func (o *Orchestrator) recordStage(ctx context.Context, runID string, rec StageRecord) {
	if o.rec != nil {
		o.rec.StageChanged(ctx, runID, rec)
	}
}

// guardFor builds the blocking-condition guard for one run. After every
// stage navigation it classifies the rendered page: account choosers are
// bypassed by re-navigating (bounded), re-auth walls either fail the run or,
// in interactive mode, park it until a human completes the challenge.
func (o *Orchestrator) guardFor(r *run, sess RunSession) guardFunc {
	bypasses := 0
	return func(ctx context.Context, stage, dest string) error {
		for {
			state, currentURL, err := o.classifyCurrent(ctx, r)
			if err != nil {
				return err
			}
			switch state {
			case StateNormal:
				return nil
			case StateAccountChooser:
				bypasses++
				if bypasses > maxChooserBypassAttempts {
					return &AmbiguousUIStateError{
						Stage:  stage,
						URL:    currentURL,
						Detail: "account chooser persisted after repeated bypass attempts",
					}
				}
				r.log.Warn("Account chooser interposed; re-navigating.",
					zap.String("stage", stage), zap.Int("attempt", bypasses))
				if err := navigate(ctx, r.page, dest, o.cfg.Network.NavigationTimeout); err != nil {
					return err
				}
			case StateReauthWall:
				if !o.cfg.Console.InteractiveReauth {
					return &ReauthBlockedError{URL: currentURL}
				}
				if err := o.awaitInteractiveReauth(ctx, r, sess, stage); err != nil {
					return err
				}
				// The post-login redirect rarely lands on the stage URL.
				if err := navigate(ctx, r.page, dest, o.cfg.Network.NavigationTimeout); err != nil {
					return err
				}
			}
		}
	}
}

// reauthPollInterval is how often the parked run re-checks whether a human
// has cleared the wall.
const reauthPollInterval = 5 * time.Second

// awaitInteractiveReauth parks the run while a human completes the re-auth
// challenge in the (headful) browser. Once the wall clears, the refreshed
// session is captured and persisted so subsequent runs start from it.
func (o *Orchestrator) awaitInteractiveReauth(ctx context.Context, r *run, sess RunSession, stage string) error {
	r.log.Warn("Re-auth wall encountered; waiting for interactive completion.",
		zap.String("stage", stage), zap.Duration("max_wait", o.cfg.Console.ReauthWait))
	deadline := time.Now().Add(o.cfg.Console.ReauthWait)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reauthPollInterval):
		}
		state, currentURL, err := o.classifyCurrent(ctx, r)
		if err != nil {
			return err
		}
		if state != StateReauthWall {
			blob, cerr := sess.CaptureState(ctx)
			if cerr != nil {
				r.log.Warn("Could not capture refreshed session.", zap.Error(cerr))
				return nil
			}
			if serr := o.store.Save(blob); serr != nil {
				r.log.Warn("Could not persist refreshed session.", zap.Error(serr))
			} else {
				r.log.Info("Refreshed session persisted.")
			}
			return nil
		}
		if time.Now().After(deadline) {
			return &ReauthBlockedError{URL: currentURL}
		}
	}
}

func (o *Orchestrator) classifyCurrent(ctx context.Context, r *run) (PageState, string, error) {
	currentURL, err := r.page.CurrentURL(ctx)
	if err != nil {
		return StateNormal, "", err
	}
	snapshot, err := r.page.Snapshot(ctx)
	if err != nil {
		return StateNormal, currentURL, err
	}
	return Classify(currentURL, snapshot), currentURL, nil
}
