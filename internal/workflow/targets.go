package workflow

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/openclaw/partnerforge/internal/locate"
)

// Every locator strategy lives here, one declarative ordered list per logical
// target, so selector tuning against console releases happens in one place.

var (
	appNameInput = locate.Target{
		Name: "app name input",
		Candidates: []locate.Strategy{
			{By: locate.ByCSS, Selector: `input[name="app[name]"]`},
			{By: locate.ByCSS, Selector: `#app_name`},
			{By: locate.ByXPath, Selector: `//label[contains(., "App name")]/following::input[1]`},
			{By: locate.ByCSS, Selector: `input[placeholder*="app name" i]`},
		},
	}

	createSubmitButton = locate.Target{
		Name: "create app submit",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//button[@type="submit"][contains(., "Create")]`},
			{By: locate.ByCSS, Selector: `form button[type="submit"]`},
		},
	}

	callbackURLInput = locate.Target{
		Name: "callback URL input",
		Candidates: []locate.Strategy{
			{By: locate.ByCSS, Selector: `input[name*="app_url"]`},
			{By: locate.ByCSS, Selector: `#app_url`},
			{By: locate.ByXPath, Selector: `//label[contains(., "App URL")]/following::input[1]`},
		},
	}

	embedToggle = locate.Target{
		Name: "embed capability toggle",
		Candidates: []locate.Strategy{
			{By: locate.ByCSS, Selector: `input[type="checkbox"][name*="embedded"]`},
			{By: locate.ByCSS, Selector: `#embedded`},
			{By: locate.ByXPath, Selector: `//label[contains(., "Embed")]/preceding::input[@type="checkbox"][1]`},
		},
	}

	scopesInput = locate.Target{
		Name: "scopes input",
		Candidates: []locate.Strategy{
			{By: locate.ByCSS, Selector: `textarea[name*="scopes"], input[name*="scopes"]`},
			{By: locate.ByXPath, Selector: `//label[contains(., "scopes")]/following::*[self::input or self::textarea][1]`},
		},
	}

	redirectURLInput = locate.Target{
		Name: "redirect URL input",
		Candidates: []locate.Strategy{
			{By: locate.ByCSS, Selector: `textarea[name*="redirect"], input[name*="redirect"]`},
			{By: locate.ByXPath, Selector: `//label[contains(., "redirection")]/following::*[self::input or self::textarea][1]`},
		},
	}

	releaseButton = locate.Target{
		Name: "release version button",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//button[contains(., "Release")]`},
			{By: locate.ByCSS, Selector: `button[name="release"]`},
		},
	}

	releaseConfirmButton = locate.Target{
		Name: "release confirmation",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//div[@role="dialog"]//button[contains(., "Release")]`},
			{By: locate.ByXPath, Selector: `//div[@role="dialog"]//button[contains(., "Confirm")]`},
		},
	}

	clientIDField = locate.Target{
		Name: "client id field",
		Candidates: []locate.Strategy{
			{By: locate.ByCSS, Selector: `input[name="api_key"]`},
			{By: locate.ByCSS, Selector: `input[id*="api-key" i]`},
			{By: locate.ByXPath, Selector: `//label[contains(., "Client ID")]/following::input[1]`},
			{By: locate.ByXPath, Selector: `//*[contains(., "Client ID")]/following::code[1]`},
		},
	}

	secretRevealButton = locate.Target{
		Name: "reveal secret button",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//button[contains(., "Reveal")]`},
			{By: locate.ByCSS, Selector: `button[aria-label*="Reveal" i]`},
		},
	}

	clientSecretField = locate.Target{
		Name: "client secret field",
		Candidates: []locate.Strategy{
			{By: locate.ByCSS, Selector: `input[name="api_secret"]`},
			{By: locate.ByCSS, Selector: `input[id*="api-secret" i]`},
			{By: locate.ByXPath, Selector: `//label[contains(., "Client secret")]/following::input[1]`},
			{By: locate.ByXPath, Selector: `//*[contains(., "Client secret")]/following::code[1]`},
		},
	}

	chooseMethodButton = locate.Target{
		Name: "select distribution method",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//button[contains(., "Select custom distribution")]`},
			{By: locate.ByCSS, Selector: `button[data-distribution="custom"]`},
		},
	}

	methodOptionCard = locate.Target{
		Name: "custom distribution option",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//input[@type="radio"][contains(@value, "custom")]`},
			{By: locate.ByXPath, Selector: `//*[@role="radio" or contains(@class, "card")][contains(., "Custom distribution")]`},
		},
	}

	methodConfirmButton = locate.Target{
		Name: "distribution method confirm",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//button[contains(., "Select")]`},
			{By: locate.ByXPath, Selector: `//button[contains(., "Confirm")]`},
		},
	}

	methodModalConfirmButton = locate.Target{
		Name: "distribution modal confirm",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//div[@role="dialog"]//button[contains(., "Select")]`},
			{By: locate.ByXPath, Selector: `//div[@role="dialog"]//button[contains(., "Confirm")]`},
		},
	}

	// Declared priority matters: label lookup first, id pattern second,
	// placeholder last.
	domainInput = locate.Target{
		Name: "store domain input",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//label[contains(., "domain")]/following::input[1]`},
			{By: locate.ByCSS, Selector: `input[id*="domain" i]`},
			{By: locate.ByCSS, Selector: `input[placeholder*="myshopify.com"]`},
		},
	}

	generateLinkButton = locate.Target{
		Name: "generate link button",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//button[contains(., "Generate link")]`},
			{By: locate.ByCSS, Selector: `button[name="generate_link"]`},
		},
	}

	generateModalConfirmButton = locate.Target{
		Name: "generate link modal confirm",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//div[@role="dialog"]//button[contains(., "Generate link")]`},
		},
	}

	linkOutputField = locate.Target{
		Name: "activation link field",
		Candidates: []locate.Strategy{
			{By: locate.ByXPath, Selector: `//label[contains(., "link")]/following::input[1]`},
			{By: locate.ByCSS, Selector: `input[readonly][value^="https://"]`},
		},
	}
)

// appDetailPattern extracts the numeric app id the console embeds in the
// post-create URL.
var appDetailPattern = regexp.MustCompile(`/apps/(\d+)(?:/|$|\?)`)

// activationLinkPattern is the shape of a generated install link, used when
// scanning input fields as a fallback.
var activationLinkPattern = regexp.MustCompile(`^https://\S+\.myshopify\.com/admin/\S+$`)

// withTimeouts copies a target with every candidate bounded by d; used for
// quick presence probes where full resolution patience is unwanted.
func withTimeouts(t locate.Target, d time.Duration) locate.Target {
	out := locate.Target{Name: t.Name, Candidates: make([]locate.Strategy, len(t.Candidates))}
	for i, c := range t.Candidates {
		c.Timeout = d
		out.Candidates[i] = c
	}
	return out
}

// consoleURLs builds the stage destination URLs for one organization.
type consoleURLs struct {
	origin string
	group  int64
}

func newConsoleURLs(dashboardURL string, group int64) (consoleURLs, error) {
	u, err := url.Parse(dashboardURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return consoleURLs{}, fmt.Errorf("malformed dashboard URL %q", dashboardURL)
	}
	return consoleURLs{origin: u.Scheme + "://" + u.Host, group: group}, nil
}

func (c consoleURLs) dashboard() string {
	return fmt.Sprintf("%s/%d/apps", c.origin, c.group)
}

func (c consoleURLs) createApp() string {
	return fmt.Sprintf("%s/%d/apps/new", c.origin, c.group)
}

func (c consoleURLs) newVersion(resourceID string) string {
	return fmt.Sprintf("%s/%d/apps/%s/versions/new", c.origin, c.group, resourceID)
}

func (c consoleURLs) settings(resourceID string) string {
	return fmt.Sprintf("%s/%d/apps/%s/settings", c.origin, c.group, resourceID)
}

func (c consoleURLs) distribution(resourceID string) string {
	return fmt.Sprintf("%s/%d/apps/%s/distribution", c.origin, c.group, resourceID)
}
