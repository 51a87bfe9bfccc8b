package preference

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type storedCookie struct {
	Name    string    `yaml:"name"`
	Value   string    `yaml:"value"`
	Path    string    `yaml:"path"`
	Expires time.Time `yaml:"expires,omitempty"`
}

// FileJar is a host-scoped cookie jar persisted to a YAML file so the
// preference outlives the process. Domain attributes are ignored.
type FileJar struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	cookies map[string][]storedCookie
}

// NewFileJar loads the jar at path, starting empty when the file is missing.
func NewFileJar(path string) (*FileJar, error) {
	j := &FileJar{path: path, now: time.Now, cookies: map[string][]storedCookie{}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie jar: %w", err)
	}
	if err := yaml.Unmarshal(raw, &j.cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookie jar %s: %w", path, err)
	}
	if j.cookies == nil {
		j.cookies = map[string][]storedCookie{}
	}
	return j, nil
}

// SetCookies implements http.CookieJar and writes the jar through. The
// interface cannot report a failed write; Save returns it.
func (j *FileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	host := u.Hostname()
	now := j.now()
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		kept := j.cookies[host][:0]
		for _, existing := range j.cookies[host] {
			if existing.Name != c.Name || existing.Path != path {
				kept = append(kept, existing)
			}
		}
		expired := c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now))
		if !expired {
			sc := storedCookie{Name: c.Name, Value: c.Value, Path: path, Expires: c.Expires}
			if c.MaxAge > 0 {
				sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
			}
			kept = append(kept, sc)
		}
		if len(kept) == 0 {
			delete(j.cookies, host)
		} else {
			j.cookies[host] = kept
		}
	}
	_ = j.saveLocked()
}

// Cookies implements http.CookieJar.
func (j *FileJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	reqPath := u.Path
	if reqPath == "" {
		reqPath = "/"
	}
	var out []*http.Cookie
	for _, c := range j.cookies[u.Hostname()] {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		if !strings.HasPrefix(reqPath, c.Path) {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// Save writes the jar to disk.
func (j *FileJar) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.saveLocked()
}

func (j *FileJar) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("failed to create jar directory: %w", err)
	}
	raw, err := yaml.Marshal(j.cookies)
	if err != nil {
		return err
	}
	return os.WriteFile(j.path, raw, 0o600)
}
