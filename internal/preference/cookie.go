// Package preference persists the user's push on/off intent as the tr.push
// cookie of the site the client talks to.
package preference

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// CookieName is the preference cookie shared with the web front end.
	CookieName = "tr.push"
	// CookieOn is the only value that means enabled.
	CookieOn = "on"

	cookieLifetime = 365 * 24 * time.Hour
)

// CookieStore implements push.PreferenceStore on top of a cookie jar.
type CookieStore struct {
	jar  http.CookieJar
	site *url.URL
	now  func() time.Time
}

// NewCookieStore stores the preference in jar under site.
func NewCookieStore(jar http.CookieJar, site *url.URL) *CookieStore {
	return &CookieStore{jar: jar, site: site, now: time.Now}
}

// Enabled reports whether the cookie is present with value "on".
func (s *CookieStore) Enabled() bool {
	for _, c := range s.jar.Cookies(s.site) {
		if c.Name == CookieName {
			return c.Value == CookieOn
		}
	}
	return false
}

// saver is implemented by jars that persist, such as FileJar.
type saver interface {
	Save() error
}

// SetEnabled writes or expires the cookie. Jars that persist are saved and
// their write error is returned.
func (s *CookieStore) SetEnabled(on bool) error {
	cookie := &http.Cookie{
		Name: CookieName,
		Path: "/",
	}
	if on {
		cookie.Value = CookieOn
		cookie.MaxAge = int(cookieLifetime / time.Second)
		cookie.Expires = s.now().Add(cookieLifetime)
	} else {
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(1, 0)
	}
	s.jar.SetCookies(s.site, []*http.Cookie{cookie})
	if j, ok := s.jar.(saver); ok {
		if err := j.Save(); err != nil {
			return fmt.Errorf("failed to persist %s cookie: %w", CookieName, err)
		}
	}
	return nil
}
