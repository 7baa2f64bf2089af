package target

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExtractor(t *testing.T, opts Options) *Extractor {
	t.Helper()
	e, err := NewExtractor(opts)
	require.NoError(t, err)
	return e
}

func TestNewExtractor_Defaults(t *testing.T) {
	e := newExtractor(t, Options{})
	assert.Equal(t, StrategyMerge, e.Strategy())
	assert.False(t, e.Fixed())
	assert.True(t, e.reserved[DefaultParam])
}

func TestNewExtractor_UnknownStrategy(t *testing.T) {
	_, err := NewExtractor(Options{Strategy: "guess"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guess")
}

func TestNewExtractor_BadFixedHost(t *testing.T) {
	_, err := NewExtractor(Options{FixedHost: "not a url"})
	require.Error(t, err)
}

func TestExtract_PlainTargetUnchanged(t *testing.T) {
	targets := []string{
		"https://example.com",
		"https://example.com/",
		"https://api.example.com/v1/users",
		"http://127.0.0.1:8080/health",
		"https://example.com/a/b/c.json",
	}
	for _, strategy := range []Strategy{StrategyMerge, StrategySlice} {
		e := newExtractor(t, Options{Strategy: strategy})
		for _, target := range targets {
			t.Run(string(strategy)+" "+target, func(t *testing.T) {
				u, err := e.Extract("/?target=" + target)
				require.NoError(t, err)
				assert.Equal(t, target, u.String())
			})
		}
	}
}

func TestExtract_MergeKeepsEmbeddedQuery(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategyMerge})

	u, err := e.Extract("/?target=https://host/a?x=1&y=2")
	require.NoError(t, err)

	assert.Equal(t, "host", u.Hostname())
	assert.Equal(t, "/a", u.Path)
	assert.Equal(t, "1", u.Query().Get("x"))
	assert.Equal(t, "2", u.Query().Get("y"))
	assert.Equal(t, "https://host/a?x=1&y=2", u.String())
}

func TestExtract_SliceKeepsRemainderVerbatim(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategySlice})

	u, err := e.Extract("/?target=https://host/a?x=1&y=2&path=ignored")
	require.NoError(t, err)
	assert.Equal(t, "https://host/a?x=1&y=2&path=ignored", u.String())
}

func TestExtract_SliceIgnoresParamsBeforeTarget(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategySlice})

	u, err := e.Extract("/api/proxy?path=foo&target=https://host/a?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://host/a?x=1", u.String())
}

func TestExtract_SliceRequiresParameterBoundary(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategySlice})

	_, err := e.Extract("/?xtarget=https://host/a")
	assert.ErrorIs(t, err, ErrMissing)

	u, err := e.Extract("/?xtarget=1&target=https://host/b")
	require.NoError(t, err)
	assert.Equal(t, "https://host/b", u.String())
}

func TestExtract_MergeAppendsExtraParams(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategyMerge, Reserved: []string{"path"}})

	u, err := e.Extract("/?target=https://host/path&a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, "https://host/path?a=1&b=2", u.String())
	assert.Contains(t, u.RawQuery, "a=1&b=2")
}

func TestExtract_MergeSkipsDuplicatesAndReserved(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategyMerge, Reserved: []string{"path"}})

	// a is already present in the escaped target; path is platform routing.
	u, err := e.Extract("/?path=api&target=https%3A%2F%2Fhost%2Fp%3Fa%3D1&a=1&b=2")
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, u.Query()["a"])
	assert.Equal(t, "2", u.Query().Get("b"))
	assert.Empty(t, u.Query().Get("path"))
	assert.Equal(t, "https://host/p?a=1&b=2", u.String())
}

func TestExtract_MergePreservesExtraEncoding(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategyMerge})

	u, err := e.Extract("/?target=https://host/p&q=hello%20world&r=a%2Bb")
	require.NoError(t, err)
	assert.Equal(t, "q=hello%20world&r=a%2Bb", u.RawQuery)
	assert.Equal(t, "hello world", u.Query().Get("q"))
	assert.Equal(t, "a+b", u.Query().Get("r"))
}

func TestExtract_MergeIgnoresRepeatedTarget(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategyMerge})

	u, err := e.Extract("/?target=https://first/&target=https://second/")
	require.NoError(t, err)
	assert.Equal(t, "first", u.Hostname())
	assert.Empty(t, u.RawQuery)
}

func TestExtract_OAuthStyleTarget(t *testing.T) {
	raw := "/?target=https://api.example.com/cgi-bin/token?grant_type=client_credential&appid=APPID&secret=SECRET"
	want := "https://api.example.com/cgi-bin/token?grant_type=client_credential&appid=APPID&secret=SECRET"

	for _, strategy := range []Strategy{StrategyMerge, StrategySlice} {
		t.Run(string(strategy), func(t *testing.T) {
			e := newExtractor(t, Options{Strategy: strategy})
			u, err := e.Extract(raw)
			require.NoError(t, err)
			assert.Equal(t, want, u.String())
		})
	}
}

func TestExtract_PercentEncodedTarget(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		raw      string
		want     string
	}{
		{
			name:     "slice upper-case escape",
			strategy: StrategySlice,
			raw:      "/?target=https%3A%2F%2Fhost%2Fa%3Fx%3D1%26y%3D2",
			want:     "https://host/a?x=1&y=2",
		},
		{
			name:     "slice lower-case escape",
			strategy: StrategySlice,
			raw:      "/?target=https%3a%2f%2fhost%2fa",
			want:     "https://host/a",
		},
		{
			name:     "merge escaped once",
			strategy: StrategyMerge,
			raw:      "/?target=https%3A%2F%2Fhost%2Fa%3Fx%3D1%26y%3D2",
			want:     "https://host/a?x=1&y=2",
		},
		{
			name:     "merge escaped twice",
			strategy: StrategyMerge,
			raw:      "/?target=https%253A%252F%252Fhost%252Fa",
			want:     "https://host/a",
		},
		{
			name:     "slice leaves unrelated escapes alone",
			strategy: StrategySlice,
			raw:      "/?target=https://host/a?q=a%2Fb",
			want:     "https://host/a?q=a%2Fb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExtractor(t, Options{Strategy: tt.strategy})
			u, err := e.Extract(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestExtract_BadEscapeFallsBack(t *testing.T) {
	e := newExtractor(t, Options{Strategy: StrategySlice})

	// %3A triggers decoding, %zz makes it fail; the raw string is parsed instead.
	_, err := e.Extract("/?target=https%3A%2F%2Fhost%zz")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExtract_Missing(t *testing.T) {
	tests := []string{
		"/",
		"/?",
		"/?other=1",
		"/?target=",
		"/?target",
	}
	for _, strategy := range []Strategy{StrategyMerge, StrategySlice} {
		e := newExtractor(t, Options{Strategy: strategy})
		for _, raw := range tests {
			t.Run(string(strategy)+" "+raw, func(t *testing.T) {
				_, err := e.Extract(raw)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMissing)
			})
		}
	}
}

func TestExtract_Malformed(t *testing.T) {
	tests := []string{
		"/?target=not-a-url",
		"/?target=/relative/path",
		"/?target=https://",
		"/?target=http://%zz",
		"/?target=mailto:someone",
	}
	for _, strategy := range []Strategy{StrategyMerge, StrategySlice} {
		e := newExtractor(t, Options{Strategy: strategy})
		for _, raw := range tests {
			t.Run(string(strategy)+" "+raw, func(t *testing.T) {
				_, err := e.Extract(raw)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformed)

				var te *Error
				require.True(t, errors.As(err, &te))
				assert.NotEmpty(t, te.Value)
			})
		}
	}
}

func TestFromPath(t *testing.T) {
	e := newExtractor(t, Options{FixedHost: "https://upstream.example.com/", PathPrefix: "/api/proxy"})
	require.True(t, e.Fixed())

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"prefix stripped", "/api/proxy/v1/items?limit=5", "https://upstream.example.com/v1/items?limit=5"},
		{"no prefix", "/other", "https://upstream.example.com/other"},
		{"bare prefix", "/api/proxy", "https://upstream.example.com"},
		{"target param ignored", "/api/proxy/x?target=https://evil.com", "https://upstream.example.com/x?target=https://evil.com"},
		{"absolute form", "http://forwarder.local/api/proxy/y", "https://upstream.example.com/y"},
		{"prefix must end at a segment", "/api/proxyfoo/x", "https://upstream.example.com/api/proxyfoo/x"},
		{"escaped path kept", "/api/proxy/a%2Fb", "https://upstream.example.com/a%2Fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := e.Resolve(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestFromPath_HostCannotBeChanged(t *testing.T) {
	e := newExtractor(t, Options{FixedHost: "https://upstream.example.com", PathPrefix: "/api/proxy"})

	for _, raw := range []string{
		"/api/proxy.evil.com/x",
		"/api/proxy@evil.com/x",
		"/api/proxy:8443/x",
		"/api/proxy//evil.com/x",
		"/api/proxy/@evil.com",
	} {
		t.Run(raw, func(t *testing.T) {
			u, err := e.Resolve(raw)
			if err != nil {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			assert.Equal(t, "upstream.example.com", u.Hostname())
			assert.Empty(t, u.Port())
			assert.Nil(t, u.User)

			// The relay re-parses the string form, so it must resolve the same way.
			again, err := url.Parse(u.String())
			require.NoError(t, err)
			assert.Equal(t, "upstream.example.com", again.Hostname())
			assert.Nil(t, again.User)
		})
	}
}

func TestFromPath_BasePath(t *testing.T) {
	e := newExtractor(t, Options{FixedHost: "https://upstream.example.com/base/", PathPrefix: "/api/proxy"})

	u, err := e.Resolve("/api/proxy/v1?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://upstream.example.com/base/v1?x=1", u.String())
}

func TestFromPath_Malformed(t *testing.T) {
	e := newExtractor(t, Options{FixedHost: "https://upstream.example.com", PathPrefix: "/api/proxy"})

	_, err := e.Resolve("/api/proxy/%zz")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = e.Resolve("*")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestError_Message(t *testing.T) {
	err := &Error{Err: ErrMalformed, Value: "nope"}
	assert.Equal(t, `target is not a valid absolute URL: "nope"`, err.Error())
	assert.Equal(t, "target parameter is required", (&Error{Err: ErrMissing}).Error())
}
