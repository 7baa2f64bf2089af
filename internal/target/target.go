// Package target resolves the destination URL of a forwarded request.
//
// The destination usually arrives as the value of a query parameter and is
// itself a URL with its own query string, e.g.
//
//	/?target=https://api.example.com/token?grant_type=x&appid=y&secret=z
//
// A generic query parser splits that at every '&', so the raw request URI is
// scanned by hand instead. Two strategies are supported: slice takes the
// remainder of the raw URI after the marker verbatim, merge parses the query
// in order and re-attaches the fragments onto the target.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Strategy selects how the target is recovered from the raw query.
type Strategy string

const (
	// StrategyMerge parses the query and appends stray parameters onto the target.
	StrategyMerge Strategy = "merge"
	// StrategySlice takes everything after "<param>=" to the end of the URI.
	StrategySlice Strategy = "slice"
)

// DefaultParam is the query parameter carrying the target URL.
const DefaultParam = "target"

var (
	// ErrMissing is returned when the request carries no target.
	ErrMissing = errors.New("target parameter is required")
	// ErrMalformed is returned when the target is not an absolute URL with a host.
	ErrMalformed = errors.New("target is not a valid absolute URL")
)

// Error reports a failed extraction. Value is the candidate as received,
// before any decoding.
type Error struct {
	Err   error
	Value string
}

func (e *Error) Error() string {
	if e.Value == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %q", e.Err, e.Value)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures an Extractor.
type Options struct {
	Strategy Strategy
	// Param defaults to DefaultParam.
	Param string
	// Reserved names are never merged onto the target. Param is always reserved.
	Reserved []string
	// FixedHost, when set, switches to path forwarding: the target is
	// FixedHost + request path (minus PathPrefix) + request query.
	FixedHost  string
	PathPrefix string
}

// Extractor resolves targets from raw request URIs. It is immutable and safe
// for concurrent use.
type Extractor struct {
	strategy   Strategy
	param      string
	reserved   map[string]bool
	fixed      *url.URL
	pathPrefix string
}

// NewExtractor validates opts and builds an Extractor.
func NewExtractor(opts Options) (*Extractor, error) {
	strategy := opts.Strategy
	switch strategy {
	case "":
		strategy = StrategyMerge
	case StrategyMerge, StrategySlice:
	default:
		return nil, fmt.Errorf("unknown target strategy %q", opts.Strategy)
	}

	param := opts.Param
	if param == "" {
		param = DefaultParam
	}

	reserved := map[string]bool{param: true}
	for _, name := range opts.Reserved {
		if name = strings.TrimSpace(name); name != "" {
			reserved[name] = true
		}
	}

	var fixed *url.URL
	if opts.FixedHost != "" {
		u, err := url.Parse(opts.FixedHost)
		if err != nil || u.Scheme == "" || u.Hostname() == "" {
			return nil, fmt.Errorf("fixed target host %q is not an absolute URL", opts.FixedHost)
		}
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = strings.TrimSuffix(u.RawPath, "/")
		u.RawQuery, u.Fragment, u.RawFragment = "", "", ""
		fixed = u
	}

	return &Extractor{
		strategy:   strategy,
		param:      param,
		reserved:   reserved,
		fixed:      fixed,
		pathPrefix: strings.TrimSuffix(opts.PathPrefix, "/"),
	}, nil
}

// Strategy returns the active query strategy.
func (e *Extractor) Strategy() Strategy { return e.strategy }

// Param returns the query parameter carrying the target.
func (e *Extractor) Param() string { return e.param }

// Fixed reports whether the extractor forwards to a fixed host.
func (e *Extractor) Fixed() bool { return e.fixed != nil }

// Resolve returns the target for a raw request URI (path and query, as sent
// on the request line).
func (e *Extractor) Resolve(rawURI string) (*url.URL, error) {
	if e.Fixed() {
		path, query, _ := strings.Cut(rawURI, "?")
		return e.FromPath(path, query)
	}
	return e.Extract(rawURI)
}

// Extract recovers the target from the query of rawURI using the configured
// strategy.
func (e *Extractor) Extract(rawURI string) (*url.URL, error) {
	if e.strategy == StrategySlice {
		return e.slice(rawURI)
	}
	return e.merge(rawURI)
}

// FromPath joins the fixed host with the request path and query. The path
// only ever extends the fixed host's path: scheme and authority always come
// from the fixed host. PathPrefix is stripped when it matches whole segments.
func (e *Extractor) FromPath(path, rawQuery string) (*url.URL, error) {
	if e.fixed == nil {
		return nil, &Error{Err: ErrMissing}
	}
	received := path
	// Absolute-form request targets carry scheme and host; keep only the path.
	if !strings.HasPrefix(path, "/") {
		if i := strings.Index(path, "://"); i >= 0 {
			rest := path[i+3:]
			if j := strings.IndexByte(rest, '/'); j >= 0 {
				path = rest[j:]
			} else {
				path = ""
			}
		}
	}
	if path != "" && path[0] != '/' {
		return nil, &Error{Err: ErrMalformed, Value: received}
	}

	if e.pathPrefix != "" {
		if rest, ok := strings.CutPrefix(path, e.pathPrefix); ok && (rest == "" || rest[0] == '/') {
			path = rest
		}
	}

	decoded, err := url.PathUnescape(path)
	if err != nil {
		return nil, &Error{Err: ErrMalformed, Value: received}
	}

	u := *e.fixed
	u.Path = e.fixed.Path + decoded
	u.RawPath = ""
	if path != decoded {
		u.RawPath = e.fixed.EscapedPath() + path
	}
	u.RawQuery = strings.ReplaceAll(rawQuery, " ", "%20")
	return &u, nil
}

func (e *Extractor) slice(rawURI string) (*url.URL, error) {
	candidate, ok := sliceAfterMarker(rawURI, e.param+"=")
	if !ok || candidate == "" {
		return nil, &Error{Err: ErrMissing}
	}
	return parse(candidate)
}

// sliceAfterMarker returns the remainder of rawURI after the first marker that
// begins a query parameter.
func sliceAfterMarker(rawURI, marker string) (string, bool) {
	i := strings.IndexByte(rawURI, '?')
	if i < 0 {
		return "", false
	}
	for {
		rest := rawURI[i+1:]
		if strings.HasPrefix(rest, marker) {
			return rest[len(marker):], true
		}
		next := strings.IndexByte(rest, '&')
		if next < 0 {
			return "", false
		}
		i += 1 + next
	}
}

func (e *Extractor) merge(rawURI string) (*url.URL, error) {
	_, rawQuery, _ := strings.Cut(rawURI, "?")
	pairs := splitQuery(rawQuery)

	idx := -1
	for i, p := range pairs {
		if p.name == e.param {
			idx = i
			break
		}
	}
	if idx < 0 || pairs[idx].value == "" {
		return nil, &Error{Err: ErrMissing}
	}

	value := pairs[idx].value
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	u, err := parse(value)
	if err != nil {
		return nil, err
	}

	own := u.Query()
	var extra []string
	for i, p := range pairs {
		if i == idx || p.name == "" || e.reserved[p.name] {
			continue
		}
		if _, dup := own[p.name]; dup {
			continue
		}
		extra = append(extra, p.raw)
	}
	if len(extra) > 0 {
		if u.RawQuery != "" {
			u.RawQuery += "&"
		}
		u.RawQuery += strings.Join(extra, "&")
	}
	return u, nil
}

// pair is one '&'-separated query element. raw is kept verbatim so merged
// parameters are forwarded with their original encoding.
type pair struct {
	name  string
	value string
	raw   string
}

// splitQuery splits a raw query on '&' preserving order. url.ParseQuery is
// not used because it loses ordering and rejects the whole query on a single
// bad escape.
func splitQuery(rawQuery string) []pair {
	var pairs []pair
	for part := range strings.SplitSeq(rawQuery, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		if n, err := url.QueryUnescape(name); err == nil {
			name = n
		}
		pairs = append(pairs, pair{name: name, value: value, raw: part})
	}
	return pairs
}

// parse decodes a fully percent-encoded candidate once, then requires an
// absolute URL with a hostname.
func parse(candidate string) (*url.URL, error) {
	raw := candidate
	if strings.Contains(raw, "%3A") || strings.Contains(raw, "%3a") {
		if decoded, err := url.PathUnescape(raw); err == nil {
			raw = decoded
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return nil, &Error{Err: ErrMalformed, Value: candidate}
	}
	if strings.Contains(u.RawQuery, " ") {
		u.RawQuery = strings.ReplaceAll(u.RawQuery, " ", "%20")
	}
	return u, nil
}
