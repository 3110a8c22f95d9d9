package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/net/idna"

	"github.com/edgecomet/webshot/pkg/types"
)

const keyPrefix = "shot:"

// Key identifies one artifact: the hashed normalized URL plus the hashed render options
type Key struct {
	URLHash     string
	OptionsHash string
}

// String returns the key as stored in Redis and used for coalescing
func (k Key) String() string {
	return keyPrefix + k.URLHash + ":" + k.OptionsHash
}

// fileName returns "<urlhash>_<optshash>" used for image files on disk
func (k Key) fileName() string {
	return k.URLHash + "_" + k.OptionsHash
}

// ParseKey is the inverse of Key.String
func ParseKey(s string) (Key, error) {
	rest, ok := strings.CutPrefix(s, keyPrefix)
	if !ok {
		return Key{}, fmt.Errorf("invalid cache key %q: missing prefix", s)
	}
	urlHash, optsHash, ok := strings.Cut(rest, ":")
	if !ok || !isHexHash(urlHash) || !isHexHash(optsHash) {
		return Key{}, fmt.Errorf("invalid cache key %q", s)
	}
	return Key{URLHash: urlHash, OptionsHash: optsHash}, nil
}

// NewKey derives the cache key for a URL rendered with opts.
// It is a pure function of the normalized URL and opts.Canonical().
func NewKey(rawURL string, opts types.ShotOptions) (Key, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Key{}, err
	}
	return Key{
		URLHash:     Hash(normalized),
		OptionsHash: Hash(opts.Canonical()),
	}, nil
}

// Hash returns the 16 hex digit XXHash64 of s
func Hash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// HashBytes returns the 16 hex digit XXHash64 of b
func HashBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// NormalizeURL converts URL to canonical form so equivalent spellings share a cache entry.
// Scheme and host are lowercased, IDN hosts converted to punycode, default ports
// dropped, dot segments resolved and query parameters sorted. Userinfo and fragment
// are kept: both change what the browser renders.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}

	u.Scheme = strings.ToLower(u.Scheme)

	hostname := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if !strings.Contains(hostname, ":") {
		ascii, err := idna.Lookup.ToASCII(hostname)
		if err != nil {
			return "", fmt.Errorf("invalid URL host %q: %w", u.Hostname(), err)
		}
		hostname = ascii
	}

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case strings.Contains(hostname, ":"):
		u.Host = "[" + hostname + "]"
	default:
		u.Host = hostname
	}
	if port != "" {
		u.Host += ":" + port
	}

	u.Path = normalizePath(u.Path)
	u.RawPath = ""
	u.RawQuery = normalizeQuery(u.RawQuery)

	return u.String(), nil
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}

	var resolved []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, part)
		}
	}

	result := "/" + strings.Join(resolved, "/")
	if len(result) > 1 && strings.HasSuffix(path, "/") {
		result += "/"
	}
	return result
}

// normalizeQuery sorts parameters by key, keeping value order within a key
func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		for _, value := range values[key] {
			if value == "" {
				parts = append(parts, url.QueryEscape(key))
			} else {
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
			}
		}
	}
	return strings.Join(parts, "&")
}

func isHexHash(s string) bool {
	if len(s) != 16 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
