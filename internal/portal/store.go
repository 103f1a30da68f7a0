package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const cookieFileVersion = 1

type storedCookie struct {
	Url      string     `json:"url"`
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HttpOnly bool       `json:"http_only,omitempty"`
}

func (c storedCookie) key() string {
	return c.Url + "|" + c.Domain + "|" + c.Path + "|" + c.Name
}

type cookieFile struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"saved_at"`
	Cookies []storedCookie `json:"cookies"`
}

// cookieStore is an http.CookieJar that remembers everything it was given so
// it can be written to disk. Session cookies (no expiry) are persisted too,
// the portal's login only ever hands out session cookies.
type cookieStore struct {
	path string

	mu      sync.Mutex
	jar     *cookiejar.Jar
	entries map[string]storedCookie
}

func newCookieStore(path string) (*cookieStore, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &cookieStore{
		path:    path,
		jar:     jar,
		entries: map[string]storedCookie{},
	}, nil
}

func (s *cookieStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.jar.SetCookies(u, cookies)

	s.mu.Lock()
	defer s.mu.Unlock()

	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
	for _, c := range cookies {
		entry := storedCookie{
			Url:      origin,
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.MaxAge > 0 {
			expires := time.Now().Add(time.Duration(c.MaxAge) * time.Second)
			entry.Expires = &expires
		} else if !c.Expires.IsZero() {
			expires := c.Expires
			entry.Expires = &expires
		}

		if expired(c) {
			delete(s.entries, entry.key())
			continue
		}
		s.entries[entry.key()] = entry
	}
}

func (s *cookieStore) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

// Load replays the cookie file into the jar, it returns false without an
// error if there is no file.
func (s *cookieStore) Load(now time.Time) (bool, error) {
	contents, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var file cookieFile
	err = json.Unmarshal(contents, &file)
	if err != nil {
		return false, fmt.Errorf("decode cookie file: %w", err)
	}
	if file.Version != cookieFileVersion {
		return false, fmt.Errorf("unsupported cookie file version %d", file.Version)
	}

	for _, c := range file.Cookies {
		if c.Expires != nil && c.Expires.Before(now) {
			continue
		}
		u, err := url.Parse(c.Url)
		if err != nil {
			return false, fmt.Errorf("cookie %s: parse url: %w", c.Name, err)
		}
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.Expires != nil {
			cookie.Expires = *c.Expires
		}
		s.SetCookies(u, []*http.Cookie{cookie})
	}

	return true, nil
}

// Save overwrites the cookie file with the current contents of the store.
func (s *cookieStore) Save(now time.Time) error {
	s.mu.Lock()
	file := cookieFile{
		Version: cookieFileVersion,
		SavedAt: now,
		Cookies: make([]storedCookie, 0, len(s.entries)),
	}
	for _, c := range s.entries {
		file.Cookies = append(file.Cookies, c)
	}
	s.mu.Unlock()

	sort.Slice(file.Cookies, func(i, j int) bool {
		return file.Cookies[i].key() < file.Cookies[j].key()
	})

	contents, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(contents)
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
