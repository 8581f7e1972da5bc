package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	logx "fwajob/pkg/logx"
)

// Client issues GET requests against the stats service.
//
// One call is one outbound request: retry policy belongs to callers.
type Client struct {
	cfg     Config
	base    string
	hc      *fasthttp.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNoBaseURL
	}

	c := &Client{
		cfg:  cfg,
		base: base,
		hc: &fasthttp.Client{
			Name:                   "fwajob",
			MaxConnsPerHost:        cfg.MaxConns,
			MaxIdleConnDuration:    90 * time.Second,
			ReadTimeout:            cfg.RequestTimeout,
			WriteTimeout:           cfg.RequestTimeout,
			DisablePathNormalizing: true,
		},
		log: log.With(logx.String("comp", "remote")),
	}
	if cfg.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), cfg.MaxRPS)
	}

	c.log.Debug("remote client ready",
		logx.String("base", base),
		logx.Int("max_conns", cfg.MaxConns),
		logx.Duration("timeout", cfg.RequestTimeout),
		logx.Int("max_rps", cfg.MaxRPS),
	)
	return c, nil
}

// MaxConns returns the effective per-host connection ceiling.
func (c *Client) MaxConns() int { return c.cfg.MaxConns }

func (c *Client) BaseURL() string { return c.base }

// Fetch GETs base + "/" + path and returns the raw body of a 2xx reply.
// Up to maxRedirects 3xx replies are followed before the deadline.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	path = strings.TrimLeft(path, "/")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newError(KindNetwork, path, 0, "", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindNetwork, path, 0, "", err)
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodGet)
	url := c.base + "/" + path

	// Redirects share the deadline of the first request.
	for hops := 0; ; hops++ {
		req.SetRequestURI(url)
		if err := c.hc.DoDeadline(req, resp, deadline); err != nil {
			if errors.Is(err, fasthttp.ErrTimeout) || time.Now().After(deadline) {
				return nil, newError(KindTimeout, path, 0, "", err)
			}
			return nil, newError(KindNetwork, path, 0, "", err)
		}
		code := resp.StatusCode()
		if !fasthttp.StatusCodeIsRedirect(code) {
			break
		}
		if hops >= maxRedirects {
			return nil, newError(KindStatus, path, code, "", fasthttp.ErrTooManyRedirects)
		}
		loc := resp.Header.Peek(fasthttp.HeaderLocation)
		if len(loc) == 0 {
			return nil, newError(KindStatus, path, code, "", fasthttp.ErrMissingLocation)
		}
		next := redirectURL(url, loc)
		c.log.Debug("following redirect", logx.String("path", path), logx.Int("code", code), logx.String("to", next))
		url = next
	}

	// resp.Body() is backed by a pooled buffer.
	body := append([]byte(nil), resp.Body()...)
	code := resp.StatusCode()
	if code < 200 || code > 299 {
		return nil, newError(KindStatus, path, code, string(body), nil)
	}
	return body, nil
}

const maxRedirects = 10

// redirectURL resolves location against the URL that produced it.
func redirectURL(from string, location []byte) string {
	u := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(u)
	u.Update(from)
	u.UpdateBytes(location)
	u.DisablePathNormalizing = true
	return u.String()
}

// FetchJSON fetches path and decodes the body into T.
func FetchJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	var out T
	body, err := c.Fetch(ctx, path)
	if err != nil {
		return out, err
	}
	if err := sonic.Unmarshal(body, &out); err != nil {
		return out, newError(KindDecode, strings.TrimLeft(path, "/"), 0, string(body), err)
	}
	return out, nil
}
