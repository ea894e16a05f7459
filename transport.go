package reqpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Response is what a transport hands back when the server answered.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs one network attempt. It returns an error only when no
// response was received; HTTP failure statuses are returned as a Response.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransport executes requests with net/http against a base URL.
type HTTPTransport struct {
	baseURL *url.URL
	client  *http.Client
}

// NewHTTPTransport builds a transport for baseURL. A nil client uses a fresh
// http.Client; deadlines come from the request context.
func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("base url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: u, client: client}, nil
}

// Execute implements Transport
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	target, err := t.resolve(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil && req.method() != http.MethodGet {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

func (t *HTTPTransport) resolve(req *Request) (string, error) {
	rel, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("parse request url %q: %w", req.URL, err)
	}
	u := t.baseURL.ResolveReference(rel)
	if len(req.Params) > 0 {
		q := u.Query()
		keys := make([]string, 0, len(req.Params))
		for k := range req.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := req.Params[k].(type) {
			case nil:
			case []any:
				for _, item := range v {
					q.Add(k, fmt.Sprint(item))
				}
			case []string:
				for _, item := range v {
					q.Add(k, item)
				}
			default:
				q.Set(k, fmt.Sprint(v))
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
