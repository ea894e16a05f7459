package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	reqpipe "github.com/AnandSundar/go-reqpipe"
)

// GetCmd sends a GET request.
type GetCmd struct {
	root *Options

	Params   []string      `short:"p" long:"param" description:"query parameter as key=value (repeatable)"`
	Cache    bool          `long:"cache" description:"serve from and store into the response cache"`
	CacheTTL time.Duration `long:"cache-ttl" description:"cache lifetime for this response"`
	NoBust   bool          `long:"no-cache-bust" description:"omit the cache-busting parameter"`
	NoAuth   bool          `long:"no-auth" description:"do not send the session token"`
	Quiet    bool          `short:"q" long:"quiet" description:"suppress error notices"`
	Timeout  time.Duration `short:"t" long:"timeout" description:"per-attempt timeout"`
	Args     struct {
		URL string `positional-arg-name:"url" required:"yes"`
	} `positional-args:"yes"`
}

func (c *GetCmd) Execute(_ []string) error {
	params, err := parseParams(c.Params)
	if err != nil {
		return err
	}
	return execute(c.root, &reqpipe.Request{
		Method:           http.MethodGet,
		URL:              c.Args.URL,
		Params:           params,
		Cache:            c.Cache,
		CacheTTL:         c.CacheTTL,
		NoCache:          c.NoBust,
		SkipAuth:         c.NoAuth,
		SkipErrorHandler: c.Quiet,
		Timeout:          c.Timeout,
	})
}

// SendCmd sends a request with a JSON body.
type SendCmd struct {
	root *Options

	Method  string        `short:"X" long:"method" description:"HTTP method" default:"POST"`
	Data    string        `short:"d" long:"data" description:"JSON body; @file reads it from a file"`
	Params  []string      `short:"p" long:"param" description:"query parameter as key=value (repeatable)"`
	Success string        `long:"success" description:"success notice text"`
	NoAuth  bool          `long:"no-auth" description:"do not send the session token"`
	Quiet   bool          `short:"q" long:"quiet" description:"suppress error notices"`
	Timeout time.Duration `short:"t" long:"timeout" description:"per-attempt timeout"`
	Args    struct {
		URL string `positional-arg-name:"url" required:"yes"`
	} `positional-args:"yes"`
}

func (c *SendCmd) Execute(_ []string) error {
	params, err := parseParams(c.Params)
	if err != nil {
		return err
	}
	body, err := parseBody(c.Data)
	if err != nil {
		return err
	}
	return execute(c.root, &reqpipe.Request{
		Method:            c.Method,
		URL:               c.Args.URL,
		Params:            params,
		Body:              body,
		SkipAuth:          c.NoAuth,
		SkipErrorHandler:  c.Quiet,
		ShowSuccessNotice: c.Success != "",
		SuccessMessage:    c.Success,
		Timeout:           c.Timeout,
	})
}

func execute(root *Options, req *reqpipe.Request) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.Close()

	if req.Timeout <= 0 {
		req.Timeout = a.cfg.Timeout
	}

	out := <-a.client.Send(ctx, req)
	a.logger.Debug("request settled", "url", req.URL, "attempts", out.Attempts, "cached", out.Cached)
	if out.Err != nil {
		return out.Err
	}
	return printJSON(a.out, out.Data, a.color)
}

// parseParams turns key=value pairs into request params. A repeated key
// becomes a list.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", pair)
		}
		switch prev := params[key].(type) {
		case nil:
			params[key] = value
		case []any:
			params[key] = append(prev, value)
		default:
			params[key] = []any{prev, value}
		}
	}
	return params, nil
}

func parseBody(data string) (any, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}
	raw := []byte(data)
	if strings.HasPrefix(data, "@") {
		content, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		raw = content
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	return body, nil
}
