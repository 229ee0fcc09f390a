// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package remote implements the table contracts over the LanceDB HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

const (
	defaultRegion     = "us-east-1"
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
	defaultTimeout    = 30 * time.Second

	contentTypeJSON  = "application/json"
	contentTypeArrow = "application/vnd.apache.arrow.stream"

	requestIDHeader = "x-request-id"
)

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	Status    int
	Body      string
	RequestID string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("http %d (request %s): %s", e.Status, e.RequestID, msg)
	}
	return fmt.Sprintf("http %d: %s", e.Status, msg)
}

// Unwrap maps the status onto the shared error taxonomy.
func (e *HTTPError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return contracts.ErrNotFound
	case http.StatusConflict:
		return contracts.ErrAlreadyExists
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return contracts.ErrValidation
	case http.StatusNotImplemented:
		return contracts.ErrUnsupported
	}
	return nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500 && status != http.StatusNotImplemented
}

// client sends requests to one database.
type client struct {
	base       *url.URL
	apiKey     string
	database   string
	userAgent  string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	log        *logging.Logger
}

// newClient resolves the endpoint for db://<database> URIs. HostOverride
// replaces the default https://<database>.<region>.api.lancedb.com.
func newClient(uri string, options *contracts.ConnectionOptions, log *logging.Logger) (*client, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "db" || u.Host == "" {
		return nil, fmt.Errorf("remote uri must look like db://<database>, got %q: %w", uri, contracts.ErrConfiguration)
	}
	c := &client{
		database:   u.Host,
		userAgent:  "lancedb-go",
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		log:        log,
	}
	region := defaultRegion
	timeout := defaultTimeout
	host := ""
	if options != nil {
		if options.APIKey != nil {
			c.apiKey = *options.APIKey
		}
		if options.Region != nil && *options.Region != "" {
			region = *options.Region
		}
		if options.HostOverride != nil {
			host = *options.HostOverride
		}
		if options.MaxRetries != nil {
			c.maxRetries = *options.MaxRetries
		}
		if options.RequestsPerSecond != nil && *options.RequestsPerSecond > 0 {
			rps := *options.RequestsPerSecond
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
		if so := options.StorageOptions; so != nil {
			if so.MaxRetries != nil && options.MaxRetries == nil {
				c.maxRetries = *so.MaxRetries
			}
			if so.RetryDelay != nil {
				c.retryDelay = time.Duration(*so.RetryDelay) * time.Millisecond
			}
			if so.Timeout != nil {
				timeout = time.Duration(*so.Timeout) * time.Second
			}
			if so.UserAgent != nil {
				c.userAgent = *so.UserAgent
			}
		}
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("remote connections need an API key: %w", contracts.ErrConfiguration)
	}
	if c.maxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative: %w", contracts.ErrConfiguration)
	}
	if host == "" {
		host = fmt.Sprintf("https://%s.%s.api.lancedb.com", c.database, region)
	}
	c.base, err = url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil || c.base.Scheme == "" || c.base.Host == "" {
		return nil, fmt.Errorf("invalid host %q: %w", host, contracts.ErrConfiguration)
	}
	c.http = &http.Client{Timeout: timeout}
	return c, nil
}

// do sends one request, retrying throttled, 5xx and transport failures
// with exponential backoff. Request bodies are replayed on each attempt.
func (c *client) do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) ([]byte, error) {
	target := c.base.JoinPath(path)
	target.RawQuery = query.Encode()
	// JoinPath drops a trailing slash the server routes on.
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(target.Path, "/") {
		target.Path += "/"
	}

	var policy backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.retryDelay),
		backoff.WithMaxElapsedTime(0),
	)
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	start := time.Now()
	var status int
	out, err := backoff.RetryWithData(func() ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("x-lancedb-database", c.database)
		req.Header.Set("User-Agent", c.userAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			return data, nil
		}
		herr := &HTTPError{Status: status, Body: string(data), RequestID: resp.Header.Get(requestIDHeader)}
		if retryable(status) {
			return nil, herr
		}
		return nil, backoff.Permanent(herr)
	}, policy)
	c.log.LogRequest(ctx, method, target.Path, status, time.Since(start), err)
	return out, err
}

// doJSON posts in as JSON and decodes the response into out when out is
// not nil.
func (c *client) doJSON(ctx context.Context, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	data, err := c.do(ctx, http.MethodPost, path, nil, contentTypeJSON, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(data, out)
}

func decodeJSON(data []byte, out interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
