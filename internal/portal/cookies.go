package portal

import (
	"net/http"
	"strings"
	"time"
)

type cookiePair struct {
	name  string
	value string
}

// CookieSet is an immutable set of cookies keyed by name, in the order they
// were first seen. The zero value is an empty set.
type CookieSet struct {
	pairs []cookiePair
}

func NewCookieSet(cookies []*http.Cookie) CookieSet {
	return CookieSet{}.With(cookies)
}

func expired(c *http.Cookie) bool {
	if c.MaxAge < 0 {
		return true
	}
	return !c.Expires.IsZero() && c.Expires.Before(time.Now())
}

// With returns a new set with the given cookies laid over this one, as a
// browser would after receiving them in Set-Cookie. Deleted or expired
// cookies are removed.
func (s CookieSet) With(cookies []*http.Cookie) CookieSet {
	out := make([]cookiePair, len(s.pairs), len(s.pairs)+len(cookies))
	copy(out, s.pairs)

	for _, c := range cookies {
		idx := -1
		for i, p := range out {
			if p.name == c.Name {
				idx = i
				break
			}
		}
		if expired(c) {
			if idx >= 0 {
				out = append(out[:idx], out[idx+1:]...)
			}
			continue
		}
		if idx >= 0 {
			out[idx].value = c.Value
			continue
		}
		out = append(out, cookiePair{name: c.Name, value: c.Value})
	}

	return CookieSet{pairs: out}
}

func (s CookieSet) Get(name string) (string, bool) {
	for _, p := range s.pairs {
		if p.name == name {
			return p.value, true
		}
	}
	return "", false
}

func (s CookieSet) Len() int {
	return len(s.pairs)
}

// HTTP returns fresh copies of the cookies, safe to attach to a request.
func (s CookieSet) HTTP() []*http.Cookie {
	out := make([]*http.Cookie, len(s.pairs))
	for i, p := range s.pairs {
		out[i] = &http.Cookie{Name: p.name, Value: p.value}
	}
	return out
}

// Map is mostly useful for assertions.
func (s CookieSet) Map() map[string]string {
	out := make(map[string]string, len(s.pairs))
	for _, p := range s.pairs {
		out[p.name] = p.value
	}
	return out
}

// String renders the set as a Cookie header value.
func (s CookieSet) String() string {
	parts := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		parts[i] = p.name + "=" + p.value
	}
	return strings.Join(parts, "; ")
}
