// Package httprpc issues debugger calls as JSON-RPC 2.0 requests over HTTP
// POST. It has no channel support; pair it with a bus using transport.Join.
package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/internal/jsonrpc"
	"github.com/ggoodman/debugsession-go/internal/logctx"
	"github.com/ggoodman/debugsession-go/transport"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

const maxErrorBody = 4 << 10

// Config for the HTTP caller. Defaults can be loaded via envdecode.
type Config struct {
	// URL of the JSON-RPC endpoint. ENV: DEBUGGER_RPC_URL
	URL string `env:"DEBUGGER_RPC_URL,default=http://localhost:8000/rpc"`
	// Timeout bounds each call when the caller's context has no deadline.
	// ENV: DEBUGGER_RPC_TIMEOUT
	Timeout time.Duration `env:"DEBUGGER_RPC_TIMEOUT,default=30s"`
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the http.Client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client is a transport.Caller over HTTP.
type Client struct {
	url     string
	timeout time.Duration
	hc      *http.Client
	header  http.Header
	log     *slog.Logger
}

var _ transport.Caller = (*Client)(nil)

// New builds a Client for cfg.URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("httprpc: url is required")
	}
	c := &Client{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		hc:      http.DefaultClient,
		header:  make(http.Header),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = slog.New(logctx.Handler{Handler: c.log.Handler()})
	return c, nil
}

// NewFromEnv builds a Client using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Client, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("httprpc: decode env: %w", err)
	}
	return New(cfg, opts...)
}

// Call posts the request on its own goroutine and returns immediately.
func (c *Client) Call(ctx context.Context, method string, params any) *future.Future[json.RawMessage] {
	id := jsonrpc.StringID(uuid.NewString())
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return future.Failed[json.RawMessage](err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return future.Failed[json.RawMessage](fmt.Errorf("marshal request: %w", err))
	}

	f := future.New[json.RawMessage]()
	go func() {
		ctx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: method, ID: id.String()})
		if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		start := time.Now()
		res, err := c.post(ctx, id, body)
		if err != nil {
			c.log.DebugContext(ctx, "httprpc.call.failed", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		} else {
			c.log.DebugContext(ctx, "httprpc.call.ok", slog.Duration("dur", time.Since(start)))
		}
		f.Settle(res, err)
	}()
	return f
}

func (c *Client) post(ctx context.Context, id *jsonrpc.RequestID, body []byte) (json.RawMessage, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	hresp, err := c.hc.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.url, err)
	}
	defer hresp.Body.Close()

	isJSON := contenttype.NewMediaType(hresp.Header.Get("Content-Type")).Matches(jsonMediaType)

	var resp jsonrpc.Response
	if isJSON {
		if err := json.NewDecoder(hresp.Body).Decode(&resp); err != nil {
			if hresp.StatusCode/100 != 2 {
				return nil, statusError(hresp.StatusCode, "")
			}
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if resp.Error != nil {
			return nil, resp.Error.Remote()
		}
	}
	if hresp.StatusCode/100 != 2 {
		var detail string
		if !isJSON {
			b, _ := io.ReadAll(io.LimitReader(hresp.Body, maxErrorBody))
			detail = strings.TrimSpace(string(b))
		}
		return nil, statusError(hresp.StatusCode, detail)
	}
	if !isJSON {
		return nil, fmt.Errorf("unexpected content-type %q", hresp.Header.Get("Content-Type"))
	}
	if resp.ID == nil || resp.ID.String() != id.String() {
		return nil, fmt.Errorf("response id mismatch")
	}
	return resp.Outcome()
}

func statusError(code int, detail string) error {
	msg := http.StatusText(code)
	if detail != "" {
		msg += ": " + detail
	}
	return &transport.RemoteError{Code: code, Message: msg}
}
