package workflow

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// PageState classifies what the console actually rendered after a
// navigation, independent of the URL we asked for.
type PageState int

const (
	// StateNormal means the expected console surface loaded.
	StateNormal PageState = iota
	// StateAccountChooser means the identity provider interposed its
	// account selection screen; it is usually bypassable by re-navigating.
	StateAccountChooser
	// StateReauthWall means the provider demands fresh credentials or a
	// second factor; no amount of re-navigation clears it.
	StateReauthWall
)

func (s PageState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateAccountChooser:
		return "account_chooser"
	case StateReauthWall:
		return "reauth_wall"
	default:
		return "unknown"
	}
}

// maxChooserBypassAttempts bounds how many times a run will re-navigate
// through the account chooser before giving up.
const maxChooserBypassAttempts = 5

var identityHosts = []string{
	"accounts.shopify.com",
	"identity.shopify.com",
}

var reauthLandmarks = []string{
	"log in",
	"log in to continue",
	"verify it's you",
	"enter your password",
	"two-step authentication",
	"confirm it's you",
}

var chooserLandmarks = []string{
	"choose an account",
	"select an account",
	"continue as",
	"switch account",
}

// Classify decides the page state from the final URL and a DOM snapshot.
// The URL narrows the candidate states cheaply; landmark text in the
// rendered document settles ambiguous cases.
func Classify(currentURL, snapshotHTML string) PageState {
	onIdentity := false
	if u, err := url.Parse(currentURL); err == nil {
		host := strings.ToLower(u.Host)
		for _, h := range identityHosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				onIdentity = true
				break
			}
		}
	}
	if !onIdentity {
		return StateNormal
	}

	text := landmarkText(snapshotHTML)
	for _, m := range reauthLandmarks {
		if strings.Contains(text, m) {
			return StateReauthWall
		}
	}
	for _, m := range chooserLandmarks {
		if strings.Contains(text, m) {
			return StateAccountChooser
		}
	}

	// On the identity host with no recognizable landmarks: path heuristics.
	lower := strings.ToLower(currentURL)
	if strings.Contains(lower, "select") || strings.Contains(lower, "chooser") {
		return StateAccountChooser
	}
	return StateReauthWall
}

// landmarkText extracts the lowercased visible text of headings, labels and
// buttons, which is where identity screens put their intent.
func landmarkText(snapshot string) string {
	doc, err := html.Parse(strings.NewReader(snapshot))
	if err != nil {
		return strings.ToLower(snapshot)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2", "h3", "label", "button", "legend", "title":
				collectText(n, &sb)
				sb.WriteByte(' ')
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.ToLower(sb.String())
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
