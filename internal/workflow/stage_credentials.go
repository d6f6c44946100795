package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/locate"
)

const stageCredentials = "scrape_credentials"

// scrapeCredentials reads the client id and secret off the settings surface.
// Scraping is best-effort against unversioned markup: a field that cannot be
// located or read yields an empty string, never a failed run.
func (r *run) scrapeCredentials(ctx context.Context, rec ResourceRecord) (Credentials, error) {
	log := r.log.With(zap.String("stage", stageCredentials), zap.String("resource_id", rec.ResourceID))
	log.Info("Scraping credentials.")

	if err := r.nav(ctx, stageCredentials, r.urls.settings(rec.ResourceID)); err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	creds.ClientID = r.scrapeField(ctx, clientIDField, log)

	outcome, err := tryOptionalClick(ctx, r.page, secretRevealButton)
	if err != nil {
		log.Warn("Reveal button failed; reading secret as rendered.", zap.Error(err))
	} else {
		log.Debug("Reveal step.", zap.Stringer("outcome", outcome))
	}
	creds.ClientSecret = r.scrapeField(ctx, clientSecretField, log)

	r.page.Screenshot(ctx, "credentials")
	log.Info("Credential scrape finished.",
		zap.Bool("client_id_found", creds.ClientID != ""),
		zap.Bool("client_secret_found", creds.ClientSecret != ""))
	return creds, nil
}

// scrapeField locates a credential holder and extracts its value, falling
// back from input value to rendered text. Returns "" when nothing usable is
// found.
func (r *run) scrapeField(ctx context.Context, target locate.Target, log *zap.Logger) string {
	h, err := r.page.Resolve(ctx, target)
	if err != nil {
		log.Warn("Credential field not found.", zap.String("target", target.Name), zap.Error(err))
		return ""
	}
	if v, err := r.page.ReadValue(ctx, h); err == nil {
		if cleaned := cleanScraped(v); cleaned != "" {
			return cleaned
		}
	}
	if t, err := r.page.Text(ctx, h); err == nil {
		return cleanScraped(t)
	}
	return ""
}
