// Package subdomain maps <doc>.<root-domain> hosts onto the internal public
// site routes.
package subdomain

import (
	"net"
	"net/http"
	"strings"
)

const (
	// Header carries the doc slug from the rewrite to the site handler.
	Header = "X-HelpPages-Doc"
	// SitePrefix is the internal route the public site is mounted on.
	SitePrefix = "/_site/"
	// PathPrefix is the path-based fallback for hosts without wildcard DNS.
	PathPrefix = "/s/"
)

var reserved = map[string]struct{}{
	"www": {}, "app": {}, "api": {}, "admin": {}, "static": {},
	"assets": {}, "mail": {}, "docs": {}, "help": {}, "status": {},
}

// IsReserved reports whether label may not be used as a doc slug.
func IsReserved(label string) bool {
	_, ok := reserved[strings.ToLower(label)]
	return ok
}

// Parse returns the doc slug encoded in host for rootDomain. Only a single
// label directly under rootDomain matches; the apex, deeper names, IP
// literals and reserved labels do not.
func Parse(host, rootDomain string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	rootDomain = strings.ToLower(strings.Trim(strings.TrimSpace(rootDomain), "."))
	if host == "" || rootDomain == "" {
		return "", false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return "", false
	}

	suffix := "." + rootDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") || !ValidLabel(label) || IsReserved(label) {
		return "", false
	}
	return label, true
}

// ValidLabel reports whether s is a DNS label usable as a doc slug: 3 to 63
// characters of [a-z0-9-], not starting or ending with a hyphen.
func ValidLabel(s string) bool {
	if len(s) < 3 || len(s) > 63 {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

// Middleware rewrites requests for doc subdomains, and for the /s/<slug>/
// fallback, to /_site/<slug><path> with the slug in Header. Client-supplied
// Header values and direct /_site/ paths are stripped first.
func Middleware(rootDomain string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(Header)

		if slug, ok := Parse(r.Host, rootDomain); ok {
			next.ServeHTTP(w, rewrite(r, slug, r.URL.Path))
			return
		}

		if strings.HasPrefix(r.URL.Path, SitePrefix) || r.URL.Path == strings.TrimSuffix(SitePrefix, "/") {
			http.NotFound(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, PathPrefix) {
			rest := strings.TrimPrefix(r.URL.Path, PathPrefix)
			slug, tail, _ := strings.Cut(rest, "/")
			slug = strings.ToLower(slug)
			if !ValidLabel(slug) || IsReserved(slug) {
				http.NotFound(w, r)
				return
			}
			if tail == "" && !strings.HasSuffix(rest, "/") {
				http.Redirect(w, r, PathPrefix+slug+"/", http.StatusMovedPermanently)
				return
			}
			next.ServeHTTP(w, rewrite(r, slug, "/"+tail))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func rewrite(r *http.Request, slug, path string) *http.Request {
	if path == "" {
		path = "/"
	}
	out := r.Clone(r.Context())
	out.Header.Set(Header, slug)
	out.URL.Path = SitePrefix + slug + path
	out.URL.RawPath = ""
	out.RequestURI = out.URL.RequestURI()
	return out
}

// FromRequest returns the doc slug set by Middleware.
func FromRequest(r *http.Request) string {
	return r.Header.Get(Header)
}
