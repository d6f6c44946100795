package workflow

import (
	"context"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/openclaw/partnerforge/internal/locate"
)

// fakePage is a scriptable in-memory console. Targets resolve unless marked
// absent; writes echo back on read unless a preset value or a mangle
// function overrides them. Hooks let tests react to navigation and clicks.
type fakePage struct {
	url         string
	navigations []string
	clicks      []string
	shots       []string

	set      map[string]string // values written via SetValue, keyed by target name
	values   map[string]string // preset readback values
	readErrs map[string]error  // targets whose value cannot be read back
	reads    []string          // targets read via ReadValue, in order
	checked  map[string]bool
	stuck    map[string]bool // toggles that swallow SetChecked
	absent   map[string]bool
	texts    map[string]string

	inputVals  []string
	disabled   map[string]bool
	readMangle func(name, written string) string
	snapshots  func(url string) string
	onNavigate func(dest string)
	onClick    func(name string)
}

func newFakePage() *fakePage {
	return &fakePage{
		set:      map[string]string{},
		values:   map[string]string{},
		readErrs: map[string]error{},
		checked:  map[string]bool{},
		stuck:    map[string]bool{},
		absent:   map[string]bool{},
		texts:    map[string]string{},
		disabled: map[string]bool{},
	}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.navigations = append(p.navigations, url)
	p.url = url
	if p.onNavigate != nil {
		p.onNavigate(url)
	}
	return nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) WaitForURLMatch(_ context.Context, pattern *regexp.Regexp, _ time.Duration) (string, error) {
	if pattern.MatchString(p.url) {
		return p.url, nil
	}
	return p.url, context.DeadlineExceeded
}

func (p *fakePage) Snapshot(context.Context) (string, error) {
	if p.snapshots != nil {
		return p.snapshots(p.url), nil
	}
	return "<html><h1>Apps</h1></html>", nil
}

func (p *fakePage) Resolve(_ context.Context, target locate.Target) (locate.Handle, error) {
	if p.absent[target.Name] {
		return locate.Handle{}, &locate.NotFoundError{Target: target.Name, Tried: len(target.Candidates)}
	}
	return locate.Handle{Target: target.Name}, nil
}

func (p *fakePage) Click(_ context.Context, h locate.Handle) error {
	p.clicks = append(p.clicks, h.Target)
	if p.onClick != nil {
		p.onClick(h.Target)
	}
	return nil
}

func (p *fakePage) SetValue(_ context.Context, h locate.Handle, value string) error {
	p.set[h.Target] = value
	return nil
}

func (p *fakePage) ReadValue(_ context.Context, h locate.Handle) (string, error) {
	p.reads = append(p.reads, h.Target)
	if err, ok := p.readErrs[h.Target]; ok {
		return "", err
	}
	if p.readMangle != nil {
		if written, ok := p.set[h.Target]; ok {
			return p.readMangle(h.Target, written), nil
		}
	}
	if v, ok := p.values[h.Target]; ok {
		return v, nil
	}
	return p.set[h.Target], nil
}

func (p *fakePage) Text(_ context.Context, h locate.Handle) (string, error) {
	return p.texts[h.Target], nil
}

func (p *fakePage) IsChecked(_ context.Context, h locate.Handle) (bool, error) {
	return p.checked[h.Target], nil
}

func (p *fakePage) SetChecked(_ context.Context, h locate.Handle, checked bool) error {
	if p.stuck[h.Target] {
		return nil
	}
	p.checked[h.Target] = checked
	return nil
}

func (p *fakePage) IsEnabled(_ context.Context, h locate.Handle) (bool, error) {
	return !p.disabled[h.Target], nil
}

func (p *fakePage) InputValues(context.Context) ([]string, error) {
	return p.inputVals, nil
}

func (p *fakePage) Screenshot(_ context.Context, label string) {
	p.shots = append(p.shots, label)
}

var _ Page = (*fakePage)(nil)

type fakeSession struct {
	page       *fakePage
	applied    [][]byte
	capture    []byte
	captureErr error
	closeCount atomic.Int32
}

func (s *fakeSession) Page() Page { return s.page }

func (s *fakeSession) ApplyState(_ context.Context, blob []byte) error {
	s.applied = append(s.applied, blob)
	return nil
}

func (s *fakeSession) CaptureState(context.Context) ([]byte, error) {
	return s.capture, s.captureErr
}

func (s *fakeSession) Close(context.Context) error {
	s.closeCount.Add(1)
	return nil
}

var _ RunSession = (*fakeSession)(nil)

type fakeStore struct {
	blob    []byte
	loadErr error
	loads   int
	saves   [][]byte
}

func (s *fakeStore) Load() ([]byte, error) {
	s.loads++
	return s.blob, s.loadErr
}

func (s *fakeStore) Save(blob []byte) error {
	s.saves = append(s.saves, blob)
	return nil
}

var _ SessionStore = (*fakeStore)(nil)

type fakeRecorder struct {
	started  []Request
	stages   []StageRecord
	finished int
	lastRes  *Result
	lastErr  error
}

func (r *fakeRecorder) RunStarted(_ context.Context, _ string, req Request) {
	r.started = append(r.started, req)
}

func (r *fakeRecorder) StageChanged(_ context.Context, _ string, rec StageRecord) {
	r.stages = append(r.stages, rec)
}

func (r *fakeRecorder) RunFinished(_ context.Context, _ string, res *Result, runErr error) {
	r.finished++
	r.lastRes = res
	r.lastErr = runErr
}

var _ Recorder = (*fakeRecorder)(nil)
