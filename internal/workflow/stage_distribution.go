package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const stageDistribution = "select_distribution"

// probeTimeout bounds the cheap presence checks used for idempotence
// short-circuits; full resolution patience would stall every repeat run.
const probeTimeout = 2 * time.Second

// selectDistribution commits the app to custom distribution. The choice is
// permanent in the console, so the stage first checks whether it was already
// made and short-circuits if so.
func (r *run) selectDistribution(ctx context.Context, rec ResourceRecord) error {
	log := r.log.With(zap.String("stage", stageDistribution), zap.String("resource_id", rec.ResourceID))
	log.Info("Selecting distribution method.")

	if err := r.nav(ctx, stageDistribution, r.urls.distribution(rec.ResourceID)); err != nil {
		return err
	}

	// The domain input only renders once a method is chosen; its presence
	// means this stage already ran.
	if _, err := r.page.Resolve(ctx, withTimeouts(domainInput, probeTimeout)); err == nil {
		log.Info("Distribution method already selected; skipping.")
		return nil
	}

	outcome, err := tryOptionalClick(ctx, r.page, chooseMethodButton)
	if err != nil {
		return err
	}
	if outcome == OptionalAbsent {
		// Two-step variant: pick the option card, then confirm.
		card, err := r.page.Resolve(ctx, methodOptionCard)
		if err != nil {
			return err
		}
		if err := r.page.Click(ctx, card); err != nil {
			return err
		}
		confirm, err := r.page.Resolve(ctx, methodConfirmButton)
		if err != nil {
			return err
		}
		if err := r.page.Click(ctx, confirm); err != nil {
			return err
		}
	}

	modal, err := tryOptionalClick(ctx, r.page, methodModalConfirmButton)
	if err != nil {
		return err
	}
	log.Debug("Distribution modal step.", zap.Stringer("outcome", modal))

	// Success criterion: the store domain input must now be reachable.
	if _, err := r.page.Resolve(ctx, domainInput); err != nil {
		url, _ := r.page.CurrentURL(ctx)
		return &AmbiguousUIStateError{
			Stage:  stageDistribution,
			URL:    url,
			Detail: "store domain input did not appear after selecting the method",
		}
	}

	r.page.Screenshot(ctx, "distribution-selected")
	log.Info("Distribution method selected.")
	return nil
}
