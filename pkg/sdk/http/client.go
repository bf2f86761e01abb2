package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

type Client struct {
	client    *resty.Client
	userAgent string
}

// ClientConfig tunes the underlying resty client. Zero values keep the defaults.
type ClientConfig struct {
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	ProxyURL     string
	UserAgent    string
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      10 * time.Second,
		RetryCount:   3,
		RetryWait:    time.Second,
		RetryMaxWait: 10 * time.Second,
		UserAgent:    "iqblitz/1.0",
	}
}

func NewClientWithConfig(host string, cfg ClientConfig) *Client {
	host = strings.TrimSuffix(host, "/")
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = def.RetryMaxWait
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	// resty also honours HTTP_PROXY / HTTPS_PROXY from the environment
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// honour Retry-After on 429
			if resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})
	if host != "" {
		client.SetBaseURL(host)
	}
	if cfg.ProxyURL != "" {
		client.SetProxy(cfg.ProxyURL)
	}

	return &Client{client: client, userAgent: cfg.UserAgent}
}

// per-request headers only; the client-level headers stay untouched
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", c.userAgent)
	return r
}

// PostJSON posts body as JSON to endpoint and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, out any) (*resty.Response, error) {
	rc := c.newRequest(ctx)
	if body != nil {
		rc.SetHeader("Content-Type", "application/json")
		rc.SetBody(body)
	}
	if out != nil {
		rc.SetResult(out)
	}
	return rc.Post(endpoint)
}

// ParseHTTPError returns a descriptive body and an error for transport
// failures and non-2xx responses.
func ParseHTTPError(resp *resty.Response, err error) (any, error) {
	if err != nil {
		return map[string]any{"error": err.Error()}, err
	}
	if resp.IsSuccess() {
		return resp, nil
	}
	var body any
	b := resp.Body()
	_ = json.Unmarshal(b, &body)
	if body == nil {
		body = string(b)
	}
	return map[string]any{
		"status":      resp.StatusCode(),
		"status_text": resp.Status(),
		"error":       body,
	}, errors.Errorf("http non-2xx: %d %v", resp.StatusCode(), body)
}
