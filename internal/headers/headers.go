// Package headers derives the outbound header set of a forwarded request.
package headers

import (
	"maps"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
)

const (
	ForwardedHost  = "X-Forwarded-Host"
	ForwardedProto = "X-Forwarded-Proto"
)

// hopByHop are connection-scoped headers an intermediary must not forward.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Transformer removes configured headers and adds forwarding headers. It is
// immutable after construction.
type Transformer struct {
	remove    map[string]bool
	userAgent string
}

// NewTransformer builds a Transformer. Names in remove are matched
// case-insensitively. A non-empty userAgent replaces the caller's User-Agent.
func NewTransformer(remove []string, userAgent string) *Transformer {
	t := &Transformer{
		remove:    make(map[string]bool, len(remove)+1),
		userAgent: userAgent,
	}
	for _, name := range remove {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			t.remove[name] = true
		}
	}
	t.remove["host"] = true
	return t
}

// Removed returns the lower-cased names stripped from every request, sorted.
func (t *Transformer) Removed() []string {
	return slices.Sorted(maps.Keys(t.remove))
}

// Transform returns a copy of src without removed headers, with
// X-Forwarded-Host and X-Forwarded-Proto set from the inbound host and scheme.
// Untouched headers keep their key casing and every value.
func (t *Transformer) Transform(src http.Header, host, scheme string) http.Header {
	dst := make(http.Header, len(src)+2)
	for key, vals := range src {
		if t.remove[strings.ToLower(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}

	setOne(dst, ForwardedHost, host)
	setOne(dst, ForwardedProto, strings.TrimSuffix(scheme, ":"))
	if t.userAgent != "" {
		setOne(dst, "User-Agent", t.userAgent)
	}
	return dst
}

// setOne replaces every casing variant of key with a single canonical entry.
func setOne(h http.Header, key, value string) {
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
	h[textproto.CanonicalMIMEHeaderKey(key)] = []string{value}
}

// StripHopByHop deletes hop-by-hop headers from h in place, including any
// named by the Connection header.
func StripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}
