// Package uri implements the normalized, immutable URI model used
// throughout the request host and pubsub fabric: scheme, host/port,
// segmented path, ordered (and possibly duplicated) query pairs, and a
// fragment (spec §3 "URI").
package uri

import (
	"net/url"
	"strings"
)

// Pair is one ordered query key-value pair. Duplicate keys are
// preserved, unlike url.Values which collapses them into a slice keyed
// by name (order across keys is lost there).
type Pair struct {
	Key   string
	Value string
}

// URI is an immutable, normalized uniform reference. Use the package
// constructors to build one; derive new values with At/With/Without
// rather than mutating a URI in place.
type URI struct {
	scheme   string
	host     string
	port     string
	segments []string // path segments, no leading/trailing empties
	query    []Pair
	fragment string
}

// Parse normalizes and parses raw into a URI. Scheme and host are
// lower-cased; every percent-escape in a path segment or query pair is
// decoded, reserved characters included (the path is split into
// segments first, so a decoded "/" stays inside its segment), and "+"
// in a query pair decodes to a space; an empty path normalizes to "/".
func Parse(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, err
	}
	segs := splitPath(u.EscapedPath())
	var pairs []Pair
	if u.RawQuery != "" {
		for _, kv := range strings.Split(u.RawQuery, "&") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			dk, _ := url.QueryUnescape(k)
			dv, _ := url.QueryUnescape(v)
			pairs = append(pairs, Pair{Key: dk, Value: dv})
		}
	}
	return URI{
		scheme:   strings.ToLower(u.Scheme),
		host:     strings.ToLower(u.Hostname()),
		port:     u.Port(),
		segments: segs,
		query:    pairs,
		fragment: u.Fragment,
	}, nil
}

// MustParse is Parse but panics on error, for use with literal URIs.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	segs := make([]string, 0, len(parts))
	for _, s := range parts {
		if s == "" {
			continue
		}
		decoded, err := url.PathUnescape(s)
		if err != nil {
			decoded = s
		}
		segs = append(segs, decoded)
	}
	return segs
}

func (u URI) Scheme() string     { return u.scheme }
func (u URI) Host() string       { return u.host }
func (u URI) Port() string       { return u.port }
func (u URI) Fragment() string   { return u.fragment }
func (u URI) Segments() []string { return append([]string(nil), u.segments...) }
func (u URI) Query() []Pair      { return append([]Pair(nil), u.query...) }

// Path returns the normalized path, always starting with "/".
func (u URI) Path() string {
	if len(u.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(u.segments, "/")
}

// QueryValue returns the first value for key, if present.
func (u URI) QueryValue(key string) (string, bool) {
	for _, p := range u.query {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// At returns a derived URI with the path replaced by segments.
func (u URI) At(segments ...string) URI {
	n := u
	n.segments = append([]string(nil), segments...)
	return n
}

// With returns a derived URI with an additional query pair appended.
func (u URI) With(key, value string) URI {
	n := u
	n.query = append(append([]Pair(nil), u.query...), Pair{key, value})
	return n
}

// Without returns a derived URI with every query pair matching key
// removed.
func (u URI) Without(key string) URI {
	n := u
	var kept []Pair
	for _, p := range u.query {
		if p.Key != key {
			kept = append(kept, p)
		}
	}
	n.query = kept
	return n
}

// WithFragment returns a derived URI with the fragment replaced.
func (u URI) WithFragment(fragment string) URI {
	n := u
	n.fragment = fragment
	return n
}

// Equal reports whether two URIs are equal after normalization (both
// are already normalized by construction, so this compares their
// String forms).
func (u URI) Equal(o URI) bool {
	return u.String() == o.String()
}

// String renders the canonical wire form of the URI.
func (u URI) String() string {
	var b strings.Builder
	if u.scheme != "" {
		b.WriteString(u.scheme)
		b.WriteString("://")
	}
	b.WriteString(u.host)
	if u.port != "" {
		b.WriteByte(':')
		b.WriteString(u.port)
	}
	b.WriteString(u.Path())
	if len(u.query) > 0 {
		b.WriteByte('?')
		for i, p := range u.query {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.Key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(p.Value))
		}
	}
	if u.fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.fragment)
	}
	return b.String()
}

// IsLocal reports whether the URI uses the Host's internal local://
// addressing scheme (spec §4.3).
func (u URI) IsLocal() bool { return u.scheme == "local" }
