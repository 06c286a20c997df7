package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const maxResponseBytes = 8 << 20

// Client talks to the display endpoints of the signage backend.
type Client struct {
	logger  *zap.SugaredLogger
	options *options
	baseURL *url.URL
	client  *http.Client
}

func NewClient(addr string, options ...Option) (*Client, error) {
	opts, err := newOptions(options...)
	if err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid backend url: %q", addr)
	}

	c := Client{
		options: opts,
		baseURL: baseURL,
	}

	if c.options.logger != nil {
		c.logger = c.options.logger
	} else {
		c.logger = zap.NewNop().Sugar()
	}

	if opts.httpClient != nil {
		c.client = opts.httpClient
	} else {
		c.client = &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: opts.tlsConfig,
			},
		}
	}
	return &c, nil
}

// BaseURL returns the backend address the client was created with.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	if _, bounded := ctx.Deadline(); !bounded && c.options.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.requestTimeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.options.userAgent != "" {
		req.Header.Set("User-Agent", c.options.userAgent)
	}
	if c.options.installationID != "" {
		req.Header.Set("X-Installation-Id", c.options.installationID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}
	c.logger.Debugw("backend call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := jsonUnmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

func jsonUnmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}
