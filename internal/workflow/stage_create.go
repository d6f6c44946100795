package workflow

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

const stageCreate = "create_app"

// createApp fills the new-app form and submits it, returning the record of
// the created resource. The resource id is recovered from the URL the console
// redirects to after creation; without it no later stage can proceed.
func (r *run) createApp(ctx context.Context) (ResourceRecord, error) {
	name := r.req.DisplayName(r.cfg.Console.AppNameSuffix)
	log := r.log.With(zap.String("stage", stageCreate), zap.String("app_name", name))
	log.Info("Creating app.")

	if err := r.nav(ctx, stageCreate, r.urls.createApp()); err != nil {
		return ResourceRecord{}, err
	}

	nameField, err := r.page.Resolve(ctx, appNameInput)
	if err != nil {
		return ResourceRecord{}, err
	}
	if err := setAndVerify(ctx, r.page, nameField, name); err != nil {
		return ResourceRecord{}, err
	}

	submit, err := r.page.Resolve(ctx, createSubmitButton)
	if err != nil {
		return ResourceRecord{}, err
	}
	if err := r.page.Click(ctx, submit); err != nil {
		return ResourceRecord{}, err
	}

	finalURL, err := r.page.WaitForURLMatch(ctx, appDetailPattern, r.cfg.Network.NavigationTimeout)
	if err != nil {
		return ResourceRecord{}, &AmbiguousUIStateError{
			Stage:  stageCreate,
			URL:    finalURL,
			Detail: "no app detail URL appeared after submitting the create form",
		}
	}

	m := appDetailPattern.FindStringSubmatch(finalURL)
	if m == nil {
		return ResourceRecord{}, &AmbiguousUIStateError{
			Stage:  stageCreate,
			URL:    finalURL,
			Detail: "post-create URL carries no app id",
		}
	}
	if _, err := strconv.ParseInt(m[1], 10, 64); err != nil {
		return ResourceRecord{}, &AmbiguousUIStateError{
			Stage:  stageCreate,
			URL:    finalURL,
			Detail: "app id in post-create URL is not numeric",
		}
	}

	r.page.Screenshot(ctx, "app-created")
	log.Info("App created.", zap.String("resource_id", m[1]))
	return ResourceRecord{
		ResourceID:     m[1],
		ConsoleGroupID: r.urls.group,
		DisplayName:    name,
	}, nil
}
