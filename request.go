package reqpipe

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout applies when a Request leaves Timeout unset
	DefaultTimeout = 30 * time.Second
	// DefaultCacheTTL applies when a cacheable Request leaves CacheTTL unset
	DefaultCacheTTL = 5 * time.Minute
)

// Request describes a single call through the pipeline. The pipeline works on
// a private copy, so a Request may be reused or mutated once Send returns.
type Request struct {
	Method  string
	URL     string
	Params  map[string]any
	Body    any
	Header  http.Header
	Timeout time.Duration

	// SkipAuth leaves the Authorization header off.
	SkipAuth bool
	// SkipErrorHandler suppresses the user notice for a failure.
	SkipErrorHandler bool
	// ShowSuccessNotice emits a success notice when the call succeeds.
	ShowSuccessNotice bool
	SuccessMessage    string
	// NoCache disables the cache-busting parameter on GET requests.
	NoCache bool

	// Cache opts a GET into the application response cache.
	Cache    bool
	CacheTTL time.Duration
}

func (r *Request) method() string {
	m := strings.ToUpper(strings.TrimSpace(r.Method))
	if m == "" {
		return http.MethodGet
	}
	return m
}

func (r *Request) cacheable() bool {
	return r.Cache && r.method() == http.MethodGet
}

func (r *Request) cacheTTL() time.Duration {
	if r.CacheTTL > 0 {
		return r.CacheTTL
	}
	return DefaultCacheTTL
}

// clone returns a deep copy detached from the caller's maps and slices.
func (r *Request) clone() *Request {
	c := *r
	c.Method = r.method()
	if r.Header != nil {
		c.Header = r.Header.Clone()
	} else {
		c.Header = http.Header{}
	}
	if r.Params != nil {
		c.Params = CloneValue(r.Params).(map[string]any)
	}
	c.Body = CloneValue(r.Body)
	return &c
}

// CloneValue deep-copies the maps and slices of a decoded JSON value. Other
// values are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = CloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = CloneValue(vv)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// Fingerprint returns the dedup identity of a request: method, URL, params
// and body. Headers do not participate.
func Fingerprint(r *Request) string {
	h := sha256.New()
	h.Write([]byte(r.method()))
	h.Write([]byte{'\n'})
	h.Write([]byte(r.URL))
	h.Write([]byte{'\n'})
	h.Write(canonical(r.Params))
	h.Write([]byte{'\n'})
	h.Write(canonical(r.Body))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// canonical serializes v deterministically; encoding/json sorts map keys.
func canonical(v any) []byte {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%#v", v))
	}
	return data
}
