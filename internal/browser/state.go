package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cookie is the persisted shape of a single browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// OriginState carries the web-storage maps for one origin. Storage can only be
// written from a page on that origin, so application is deferred until the
// session navigates there.
type OriginState struct {
	Origin         string            `json:"origin"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	SessionStorage map[string]string `json:"session_storage,omitempty"`
}

// State is the serialized authenticated-session blob: everything needed to
// resume a logged-in console session without an interactive login.
type State struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins,omitempty"`
}

// DecodeState parses a session blob.
func DecodeState(blob []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &st, nil
}

// Encode serializes the state back into a blob.
func (st *State) Encode() ([]byte, error) {
	blob, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session state: %w", err)
	}
	return blob, nil
}

// setCookiesAction installs every cookie from the state into the browser.
func setCookiesAction(st *State) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range st.Cookies {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				exp := cdp.TimeSinceEpoch(epochTime(c.Expires))
				p = p.WithExpires(&exp)
			}
			if c.SameSite != "" {
				p = p.WithSameSite(network.CookieSameSite(c.SameSite))
			}
			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %q for %q: %w", c.Name, c.Domain, err)
			}
		}
		return nil
	})
}

// captureStateAction reads all cookies into st, replacing any previous set.
func captureStateAction(st *State) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cookies: %w", err)
		}
		st.Cookies = st.Cookies[:0]
		for _, c := range cookies {
			st.Cookies = append(st.Cookies, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: string(c.SameSite),
			})
		}
		return nil
	})
}

// epochTime converts a cookie expiry in fractional epoch seconds.
func epochTime(sec float64) time.Time {
	s := int64(sec)
	ns := int64((sec - float64(s)) * 1e9)
	return time.Unix(s, ns)
}

// originOf normalizes a page URL to its origin.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
