package worker

import (
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
)

// Kind is the routing class of an intercepted request.
type Kind int

const (
	// KindPassthrough requests are not intercepted.
	KindPassthrough Kind = iota
	// KindNavigation requests are full document loads, served network first.
	KindNavigation
	// KindStatic requests are same-origin build assets and icons, served
	// cache first from the runtime partition.
	KindStatic
	// KindCrossOriginImage requests are images matched by extension from any
	// origin, served cache first from the runtime partition.
	KindCrossOriginImage
)

func (k Kind) String() string {
	switch k {
	case KindNavigation:
		return "navigation"
	case KindStatic:
		return "static"
	case KindCrossOriginImage:
		return "cross-origin-image"
	default:
		return "passthrough"
	}
}

// Rules are the path and extension matchers used by Classify.
type Rules struct {
	StaticPrefixes   []string
	StaticExtensions []string
	ImageExtensions  []string
}

// DefaultRules match the Next.js build output and the icon set.
func DefaultRules() Rules {
	return Rules{
		StaticPrefixes: []string{"/_next/static/", "/icons/"},
		StaticExtensions: []string{
			".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".gif", ".ico",
			".woff", ".woff2", ".ttf", ".otf",
		},
		ImageExtensions: []string{".png", ".jpg", ".jpeg", ".webp", ".svg", ".gif", ".avif"},
	}
}

// WithStaticPrefixes returns a copy of r using prefixes, or r unchanged when
// prefixes is empty.
func (r Rules) WithStaticPrefixes(prefixes []string) Rules {
	if len(prefixes) > 0 {
		r.StaticPrefixes = slices.Clone(prefixes)
	}
	return r
}

// Classify routes req. Only GET is ever intercepted. A request URL without a
// host is treated as same-origin.
func Classify(req *http.Request, origin *url.URL, rules Rules) Kind {
	if req.Method != http.MethodGet || req.URL == nil {
		return KindPassthrough
	}
	if IsNavigation(req) {
		return KindNavigation
	}
	ext := strings.ToLower(path.Ext(req.URL.Path))
	if sameOrigin(req.URL, origin) && rules.isStatic(req.URL.Path, ext) {
		return KindStatic
	}
	if slices.Contains(rules.ImageExtensions, ext) {
		return KindCrossOriginImage
	}
	return KindPassthrough
}

func (r Rules) isStatic(p, ext string) bool {
	for _, prefix := range r.StaticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return slices.Contains(r.StaticExtensions, ext)
}

func sameOrigin(u, origin *url.URL) bool {
	if u.Host == "" {
		return true
	}
	if origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(u.Host, origin.Host)
}

// IsNavigation reports whether req is a browser document load. Fetch
// metadata headers decide when present; otherwise a GET that accepts HTML
// counts.
func IsNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	mode := req.Header.Get("Sec-Fetch-Mode")
	dest := req.Header.Get("Sec-Fetch-Dest")
	if mode != "" || dest != "" {
		return mode == "navigate" || dest == "document"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
