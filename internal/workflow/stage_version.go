package workflow

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/locate"
)

const stageVersion = "configure_version"

// releaseSettledPattern matches the URLs the console lands on once a release
// completes: the app detail page or a concrete version page, never the
// /versions/new form.
var releaseSettledPattern = regexp.MustCompile(`/apps/\d+(?:/versions/\d+)?/?(?:$|\?)`)

// configureVersion fills the version form with the configured OAuth values,
// sets the embed capability, and releases the version.
func (r *run) configureVersion(ctx context.Context, rec ResourceRecord, vc VersionConfig) error {
	log := r.log.With(zap.String("stage", stageVersion), zap.String("resource_id", rec.ResourceID))
	log.Info("Configuring version.")

	if err := r.nav(ctx, stageVersion, r.urls.newVersion(rec.ResourceID)); err != nil {
		return err
	}

	cb, err := r.page.Resolve(ctx, callbackURLInput)
	if err != nil {
		return err
	}
	if err := setAndVerify(ctx, r.page, cb, vc.CallbackURL); err != nil {
		return err
	}

	// Redirect and scopes verify loosely: the fields must exist and accept
	// the write, but some console variants render them as widgets whose value
	// cannot be read back.
	loose := []struct {
		target locate.Target
		value  string
	}{
		{redirectURLInput, vc.RedirectURL},
		{scopesInput, vc.ScopesCSV},
	}
	for _, f := range loose {
		h, err := r.page.Resolve(ctx, f.target)
		if err != nil {
			return err
		}
		if err := r.setWithLooseReadback(ctx, h, f.value, log); err != nil {
			return err
		}
	}

	if err := r.applyEmbedToggle(ctx, vc.Embed, log); err != nil {
		return err
	}

	release, err := r.page.Resolve(ctx, releaseButton)
	if err != nil {
		return err
	}
	if err := r.waitEnabled(ctx, release, stageVersion); err != nil {
		return err
	}
	if err := r.page.Click(ctx, release); err != nil {
		return err
	}

	outcome, err := tryOptionalClick(ctx, r.page, releaseConfirmButton)
	if err != nil {
		return err
	}
	log.Debug("Release confirmation step.", zap.Stringer("outcome", outcome))

	finalURL, err := r.page.WaitForURLMatch(ctx, releaseSettledPattern, r.cfg.Network.NavigationTimeout)
	if err != nil {
		return &AmbiguousUIStateError{
			Stage:  stageVersion,
			URL:    finalURL,
			Detail: "console did not leave the version form after release",
		}
	}

	r.logReleasedFields(ctx, log)
	r.page.Screenshot(ctx, "version-released")
	log.Info("Version released.")
	return nil
}

// setWithLooseReadback writes a value and verifies the echo when the field can
// be read back. A readback failure is logged and tolerated; a readback that
// succeeds and disagrees is still a mismatch.
func (r *run) setWithLooseReadback(ctx context.Context, h locate.Handle, value string, log *zap.Logger) error {
	if err := r.page.SetValue(ctx, h, value); err != nil {
		return err
	}
	observed, err := r.page.ReadValue(ctx, h)
	if err != nil {
		log.Warn("Field accepted the write but could not be re-read.",
			zap.String("target", h.Target), zap.Error(err))
		return nil
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

// applyEmbedToggle drives the embed checkbox toward the configured state and
// confirms the state committed. A missing toggle is tolerated: the console
// only renders it for some app surfaces, and the release still carries the
// default.
func (r *run) applyEmbedToggle(ctx context.Context, want bool, log *zap.Logger) error {
	h, err := r.page.Resolve(ctx, embedToggle)
	if err != nil {
		var nf *locate.NotFoundError
		if errors.As(err, &nf) {
			log.Warn("Embed toggle not present; leaving console default.", zap.Bool("wanted", want))
			return nil
		}
		return err
	}
	if err := r.page.SetChecked(ctx, h, want); err != nil {
		return err
	}
	observed, err := r.page.IsChecked(ctx, h)
	if err != nil {
		return err
	}
	if observed != want {
		return &VerificationMismatchError{
			Target:   h.Target,
			Expected: strconv.FormatBool(want),
			Observed: strconv.FormatBool(observed),
		}
	}
	return nil
}

// logReleasedFields reads the OAuth fields back from the page the release
// landed on and logs what stuck, for diagnosis when a later stage misbehaves.
// Strictly best-effort: the release already settled, and the landing page may
// not render the fields at all.
func (r *run) logReleasedFields(ctx context.Context, log *zap.Logger) {
	for _, target := range []locate.Target{callbackURLInput, redirectURLInput, scopesInput} {
		h, err := r.page.Resolve(ctx, withTimeouts(target, probeTimeout))
		if err != nil {
			continue
		}
		v, err := r.page.ReadValue(ctx, h)
		if err != nil {
			continue
		}
		log.Debug("Post-release field state.",
			zap.String("target", target.Name), zap.String("value", v))
	}
}
