package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxBodyBytes caps buffered origin responses.
const DefaultMaxBodyBytes int64 = 64 << 20

// ErrBodyTooLarge is returned when an origin response exceeds the buffer cap.
var ErrBodyTooLarge = errors.New("origin response body too large")

// Response is a fully buffered origin response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// WriteTo copies the response onto w.
func (r *Response) WriteTo(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range r.Header {
		if isHopByHop(key) {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(r.Body)
}

// Fetcher performs a network request on behalf of the shim.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*Response, error)
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPFetcher sends requests to the origin. Relative request URLs are
// resolved against the origin base; absolute URLs are fetched as given.
// Absolute URLs only come from the precache manifest. Served requests are
// mapped through OriginURL first.
type HTTPFetcher struct {
	base    *url.URL
	client  HTTPDoer
	maxBody int64
}

// NewHTTPFetcher builds a fetcher for origin. A nil client gets a default one
// with the given timeout that does not follow redirects, so they reach the
// browser unchanged.
func NewHTTPFetcher(origin string, client HTTPDoer, timeout time.Duration) (*HTTPFetcher, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(origin), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute http(s) URL", origin)
	}
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTPFetcher{base: base, client: client, maxBody: DefaultMaxBodyBytes}, nil
}

// Base returns the origin base URL.
func (f *HTTPFetcher) Base() *url.URL {
	clone := *f.base
	return &clone
}

// Resolve maps a request URL onto the origin.
func (f *HTTPFetcher) Resolve(target *url.URL) *url.URL {
	return ResolveURL(f.base, target)
}

// ResolveURL maps target onto base. Absolute targets are returned as a copy;
// relative ones keep their path and query under the base path.
func ResolveURL(base, target *url.URL) *url.URL {
	if target == nil {
		clone := *base
		return &clone
	}
	if target.IsAbs() && target.Host != "" {
		clone := *target
		return &clone
	}
	resolved := *base
	resolved.Path = singleJoiningSlash(base.Path, target.Path)
	resolved.RawPath = ""
	resolved.RawQuery = target.RawQuery
	resolved.Fragment = ""
	return &resolved
}

// OriginURL maps an incoming request URL onto base. Only the path and query
// are kept; scheme and host of absolute-form request targets are discarded so
// requests always reach the origin.
func OriginURL(base, target *url.URL) *url.URL {
	if target == nil {
		return ResolveURL(base, nil)
	}
	return ResolveURL(base, &url.URL{Path: target.Path, RawQuery: target.RawQuery})
}

// Fetch forwards req to the origin and buffers the response. Transport errors
// are returned unchanged.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	if ctx == nil {
		ctx = req.Context()
	}
	target := f.Resolve(req.URL)

	var body io.Reader
	if req.Body != nil && req.Body != http.NoBody {
		body = req.Body
	}
	outbound, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	outbound.ContentLength = req.ContentLength
	copyHeader(outbound.Header, req.Header)
	if req.Host != "" && req.Host != target.Host {
		outbound.Header.Set("X-Forwarded-Host", req.Host)
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limit := f.maxBody
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read origin response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, target, limit)
	}

	header := make(http.Header, len(resp.Header))
	copyHeader(header, resp.Header)
	return &Response{Status: resp.StatusCode, Header: header, Body: data}, nil
}

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHop(key string) bool {
	canonical := http.CanonicalHeaderKey(key)
	for _, h := range hopByHopHeaders {
		if canonical == h {
			return true
		}
	}
	return false
}

func copyHeader(dst, src http.Header) {
	// Headers named in Connection are hop-by-hop too.
	var named []string
	for _, value := range src.Values("Connection") {
		for _, field := range strings.Split(value, ",") {
			if field = strings.TrimSpace(field); field != "" {
				named = append(named, http.CanonicalHeaderKey(field))
			}
		}
	}
	for key, values := range src {
		if isHopByHop(key) || contains(named, http.CanonicalHeaderKey(key)) {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// Clone returns a request copy with URL replaced, suitable for Fetch.
func Clone(ctx context.Context, req *http.Request, target *url.URL) *http.Request {
	clone := req.Clone(ctx)
	clone.URL = target
	clone.RequestURI = ""
	if req.Body == nil || req.Body == http.NoBody {
		clone.Body = http.NoBody
	}
	return clone
}

// NewGet builds a bodiless GET for target.
func NewGet(ctx context.Context, target *url.URL) *http.Request {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	return req
}
