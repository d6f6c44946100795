package workflow

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/partnerforge/internal/locate"
)

// Page is the narrow surface a stage needs from the browser. The production
// implementation is *browser.Page; tests drive stages through fakes.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	WaitForURLMatch(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error)
	Snapshot(ctx context.Context) (string, error)

	Resolve(ctx context.Context, target locate.Target) (locate.Handle, error)
	Click(ctx context.Context, h locate.Handle) error
	SetValue(ctx context.Context, h locate.Handle, value string) error
	ReadValue(ctx context.Context, h locate.Handle) (string, error)
	Text(ctx context.Context, h locate.Handle) (string, error)
	IsChecked(ctx context.Context, h locate.Handle) (bool, error)
	SetChecked(ctx context.Context, h locate.Handle, checked bool) error
	IsEnabled(ctx context.Context, h locate.Handle) (bool, error)
	InputValues(ctx context.Context) ([]string, error)

	Screenshot(ctx context.Context, label string)
}

// RunSession is the per-run browser lifecycle the orchestrator owns.
type RunSession interface {
	Page() Page
	ApplyState(ctx context.Context, blob []byte) error
	CaptureState(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// SessionFactory launches a fresh, isolated browser session for one run.
type SessionFactory func(ctx context.Context) (RunSession, error)

// SessionStore abstracts session-blob persistence.
type SessionStore interface {
	Load() ([]byte, error)
	Save(blob []byte) error
}

// OptionalOutcome is the tri-state result of a UI step that may or may not be
// present (confirmation modals, secondary buttons). Absence is an expected
// state, not a swallowed error.
type OptionalOutcome int

const (
	OptionalAbsent OptionalOutcome = iota
	OptionalHandled
	OptionalFailed
)

func (o OptionalOutcome) String() string {
	switch o {
	case OptionalAbsent:
		return "absent"
	case OptionalHandled:
		return "handled"
	case OptionalFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// tryOptionalClick resolves a target that is allowed to be absent and clicks
// it when present. Absence is reported, never treated as an error.
func tryOptionalClick(ctx context.Context, page Page, target locate.Target) (OptionalOutcome, error) {
	h, err := page.Resolve(ctx, target)
	if err != nil {
		var nf *locate.NotFoundError
		if errors.As(err, &nf) {
			return OptionalAbsent, nil
		}
		return OptionalFailed, err
	}
	if err := page.Click(ctx, h); err != nil {
		return OptionalFailed, err
	}
	return OptionalHandled, nil
}

// setAndVerify writes a value and immediately reads it back; the write only
// counts once the UI echoes it (exact match after trimming).
func setAndVerify(ctx context.Context, page Page, h locate.Handle, value string) error {
	if err := page.SetValue(ctx, h, value); err != nil {
		return err
	}
	observed, err := page.ReadValue(ctx, h)
	if err != nil {
		return err
	}
	if strings.TrimSpace(observed) != strings.TrimSpace(value) {
		return &VerificationMismatchError{
			Target:   h.Target,
			Expected: strings.TrimSpace(value),
			Observed: strings.TrimSpace(observed),
		}
	}
	return nil
}

// navigate wraps Page.Navigate, converting a deadline lapse into the
// workflow's navigation-timeout kind.
func navigate(ctx context.Context, page Page, url string, timeout time.Duration) error {
	err := page.Navigate(ctx, url)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NavigationTimeoutError{URL: url, Timeout: timeout, Err: err}
	}
	return err
}
