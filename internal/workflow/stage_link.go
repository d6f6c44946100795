package workflow

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const stageLink = "generate_link"

// generateLink enters the target store domain and produces the activation
// link. It assumes the distribution stage left the page on the distribution
// surface with the domain input present.
//
// An empty return with a nil error is a soft failure: the console accepted
// the generate action but no link could be read back. The caller reports it
// in the result note rather than failing the run.
func (r *run) generateLink(ctx context.Context, rec ResourceRecord) (string, error) {
	log := r.log.With(zap.String("stage", stageLink),
		zap.String("resource_id", rec.ResourceID),
		zap.String("store_domain", r.req.StoreDomain))
	log.Info("Generating activation link.")

	domain, err := r.page.Resolve(ctx, domainInput)
	if err != nil {
		return "", err
	}
	if err := setAndVerify(ctx, r.page, domain, strings.TrimSpace(r.req.StoreDomain)); err != nil {
		return "", err
	}

	generate, err := r.page.Resolve(ctx, generateLinkButton)
	if err != nil {
		return "", err
	}
	if err := r.waitEnabled(ctx, generate, stageLink); err != nil {
		return "", err
	}
	if err := r.page.Click(ctx, generate); err != nil {
		return "", err
	}

	modal, err := tryOptionalClick(ctx, r.page, generateModalConfirmButton)
	if err != nil {
		return "", err
	}
	log.Debug("Generate modal step.", zap.Stringer("outcome", modal))

	link := r.readLink(ctx)
	r.page.Screenshot(ctx, "link-generated")
	if link == "" {
		log.Warn("No activation link could be read back.")
		return "", nil
	}
	log.Info("Activation link generated.")
	return link, nil
}

// readLink extracts the generated link, preferring the dedicated output
// field and falling back to scanning every input on the page for a value
// shaped like an install link.
func (r *run) readLink(ctx context.Context) string {
	if h, err := r.page.Resolve(ctx, withTimeouts(linkOutputField, probeTimeout)); err == nil {
		if v, err := r.page.ReadValue(ctx, h); err == nil {
			v = strings.TrimSpace(v)
			if activationLinkPattern.MatchString(v) {
				return v
			}
		}
	}
	values, err := r.page.InputValues(ctx)
	if err != nil {
		return ""
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if activationLinkPattern.MatchString(v) {
			return v
		}
	}
	return ""
}
