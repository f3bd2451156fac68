// Package urlnorm implements the canonical-URL normalization rule the
// corpus identity model depends on: two inputs with the same normalized
// form must share one cache row.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParamPrefixes are query keys dropped during normalization because
// they vary per-click without changing the resource identity.
var trackingParamPrefixes = []string{"utm_", "fbclid", "gclid", "mc_cid", "mc_eid", "ref"}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize canonicalizes a URL: lowercase scheme/host, strip default
// ports and tracking params, drop the fragment, and sort remaining query
// keys. Bare domains (no scheme) are assumed https. Normalize is
// idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && defaultPorts[scheme] == port {
		port = ""
	}

	hostport := host
	if port != "" {
		hostport = host + ":" + port
	}

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		for _, prefix := range trackingParamPrefixes {
			if strings.HasPrefix(lower, prefix) {
				q.Del(key)
				break
			}
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var qb strings.Builder
	for i, k := range keys {
		if i > 0 {
			qb.WriteByte('&')
		}
		for j, v := range q[k] {
			if j > 0 {
				qb.WriteByte('&')
			}
			qb.WriteString(url.QueryEscape(k))
			qb.WriteByte('=')
			qb.WriteString(url.QueryEscape(v))
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
	}

	out := scheme + "://" + hostport + path
	if qb.Len() > 0 {
		out += "?" + qb.String()
	}
	return out, nil
}

// IsHandle reports whether raw is a corpus handle rather than a web URL.
func IsHandle(raw string) bool {
	return strings.HasPrefix(raw, "corpus://cache/")
}
