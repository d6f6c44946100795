package workflow

import (
	"fmt"
	"strings"
)

// ManagedStoreSuffix is the domain suffix every activation target must carry.
const ManagedStoreSuffix = ".myshopify.com"

// Request is the immutable input to one workflow run.
type Request struct {
	BrandName   string `json:"brand_name"`
	StoreDomain string `json:"store_domain"`
}

// Validate re-checks the invariants the network layer is expected to have
// enforced already. The core never trusts its caller.
func (r Request) Validate() error {
	if strings.TrimSpace(r.BrandName) == "" {
		return &ValidationError{Field: "brand_name", Reason: "must not be empty"}
	}
	domain := strings.TrimSpace(r.StoreDomain)
	if domain == "" {
		return &ValidationError{Field: "store_domain", Reason: "must not be empty"}
	}
	if !strings.HasSuffix(domain, ManagedStoreSuffix) || domain == ManagedStoreSuffix {
		return &ValidationError{
			Field:  "store_domain",
			Reason: fmt.Sprintf("must be a managed store domain ending in %q", ManagedStoreSuffix),
		}
	}
	return nil
}

// DisplayName derives the app name created in the console.
func (r Request) DisplayName(suffix string) string {
	return strings.TrimSpace(r.BrandName) + " x " + suffix
}

// ResourceRecord identifies the app created by the first stage. It is
// extracted from the post-create URL and required by every later stage.
type ResourceRecord struct {
	ResourceID     string
	ConsoleGroupID int64
	DisplayName    string
}

// VersionConfig carries the values applied verbatim to the version form.
type VersionConfig struct {
	CallbackURL string
	RedirectURL string
	ScopesCSV   string
	Embed       bool
}

// Credentials holds the scraped API credentials. Empty strings mean "not
// found", which is tolerated: scraping is best-effort against unversioned
// markup.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Result is the sole externally observable success artifact of a run.
type Result struct {
	AppName          string `json:"app_name"`
	ClientID         string `json:"client_id"`
	ClientSecret     string `json:"client_secret"`
	DistributionLink string `json:"distribution_link"`
	StoreDomain      string `json:"store_domain"`
	Note             string `json:"note"`
}

// cleanScraped normalizes a scraped credential: all whitespace is stripped,
// since ids and secrets never legitimately contain any.
func cleanScraped(s string) string {
	return strings.Join(strings.Fields(s), "")
}
