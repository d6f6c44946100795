package workflow

import (
	"fmt"
	"time"
)

// The error kinds below map one-to-one onto the failure modes a caller can
// observe. All are returned by value through Run; callers dispatch with
// errors.As.

// ValidationError reports malformed request input. It is never retried and is
// surfaced verbatim to the caller before any browser work starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// ConfigurationError reports missing or unusable external configuration,
// fatal at run start.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// VerificationMismatchError reports that a value written to the UI did not
// read back as expected. Writes to rich client-side widgets are asynchronous;
// an accepted write is not proof the UI committed it.
type VerificationMismatchError struct {
	Target   string
	Expected string
	Observed string
}

func (e *VerificationMismatchError) Error() string {
	return fmt.Sprintf("readback mismatch on %q: wrote %q, observed %q", e.Target, e.Expected, e.Observed)
}

// NavigationTimeoutError reports a page transition or load-state wait that
// exceeded its bound.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %q exceeded %s", e.URL, e.Timeout)
}

func (e *NavigationTimeoutError) Unwrap() error { return e.Err }

// ReauthBlockedError reports an authentication wall that cannot be resolved
// non-interactively.
type ReauthBlockedError struct {
	URL string
}

func (e *ReauthBlockedError) Error() string {
	return fmt.Sprintf("blocked by re-authentication wall at %q; refresh the captured session or enable interactive reauth", e.URL)
}

// AmbiguousUIStateError reports that an expected post-condition of an action
// could not be observed, most often because the console UI changed shape.
type AmbiguousUIStateError struct {
	Stage  string
	URL    string
	Detail string
}

func (e *AmbiguousUIStateError) Error() string {
	return fmt.Sprintf("stage %s: unexpected UI state at %q: %s", e.Stage, e.URL, e.Detail)
}
