/*
Copyright 2024 Quotedesk Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package remote is the HTTP client of the external approval system.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/internal/cache"
	"github.com/quotedesk/quotedesk/internal/request"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnavailable covers transport failures and 5xx responses.
	ErrUnavailable = errors.New("remote approval system unavailable")
	// ErrRejected is returned when the remote answers with a non-zero errcode or a 4xx.
	ErrRejected = errors.New("remote approval system rejected the request")
	// ErrNoInstance is returned when a submission succeeds without an instance id.
	ErrNoInstance = errors.New("remote approval system returned no instance id")
)

// token errcodes that mean the cached access token must be refreshed.
var expiredTokenCodes = map[int]bool{40014: true, 42001: true}

// APIError is a non-zero errcode answer.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("errcode %d: %s", e.Code, e.Message)
}

type baseResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type tokenResponse struct {
	baseResponse
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client talks to the remote approval API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	corpID     string
	corpSecret string
	httpClient *http.Client
	cache      cache.Cache
	retry      func() backoff.BackOff

	mu    sync.Mutex
	token cachedToken
}

type Option func(*Client)

// WithCache shares the access token between processes through redis.
func WithCache(c cache.Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.httpClient = h }
}

// WithBackOff replaces the retry policy used for token fetches.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(cl *Client) { cl.retry = f }
}

func NewClient(cfg config.ExternalConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = config.DEFAULT_EXTERNAL_TIMEOUT_SEC * time.Second
	}
	c := &Client{
		baseURL:    cfg.BaseURL,
		corpID:     cfg.CorpID,
		corpSecret: cfg.CorpSecret,
		httpClient: &http.Client{Timeout: timeout},
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) tokenCacheKey() string {
	return "quotedesk:remote:token:" + c.corpID
}

// AccessToken returns a valid access token, fetching a new one when needed.
// The fetch is idempotent and retried with exponential backoff.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.token.Token != "" && now.Before(c.token.ExpiresAt) {
		return c.token.Token, nil
	}
	if c.cache != nil {
		var cached cachedToken
		if err := c.cache.Get(ctx, c.tokenCacheKey(), &cached); err == nil && now.Before(cached.ExpiresAt) {
			c.token = cached
			return cached.Token, nil
		}
	}

	var fetched cachedToken
	operation := func() error {
		tok, err := c.fetchToken(ctx)
		if err != nil {
			if errors.Is(err, ErrRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		fetched = tok
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(c.retry(), ctx)); err != nil {
		return "", err
	}

	c.token = fetched
	if c.cache != nil {
		if err := c.cache.Set(ctx, c.tokenCacheKey(), fetched, time.Until(fetched.ExpiresAt)); err != nil {
			logrus.WithError(err).Warn("failed to cache remote access token")
		}
	}
	return fetched.Token, nil
}

func (c *Client) fetchToken(ctx context.Context) (cachedToken, error) {
	q := url.Values{}
	q.Set("corpid", c.corpID)
	q.Set("corpsecret", c.corpSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gettoken?"+q.Encode(), nil)
	if err != nil {
		return cachedToken{}, err
	}
	var resp tokenResponse
	if err := c.do(req, &resp); err != nil {
		return cachedToken{}, err
	}
	if err := checkCode(resp.baseResponse); err != nil {
		return cachedToken{}, err
	}
	if resp.AccessToken == "" {
		return cachedToken{}, fmt.Errorf("%w: empty access token", ErrRejected)
	}

	// refresh five minutes ahead of the remote expiry
	ttl := time.Duration(resp.ExpiresIn)*time.Second - 5*time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	return cachedToken{Token: resp.AccessToken, ExpiresAt: time.Now().Add(ttl)}, nil
}

// invalidateToken drops the token after the remote reported it expired.
func (c *Client) invalidateToken(ctx context.Context) {
	c.mu.Lock()
	c.token = cachedToken{}
	c.mu.Unlock()
	if c.cache != nil {
		_ = c.cache.Delete(ctx, c.tokenCacheKey())
	}
}

// post sends an authenticated JSON request. A single retry is made when the
// remote reports the token as expired.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}, code func() baseResponse) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.AccessToken(ctx)
		if err != nil {
			return err
		}
		body, err := request.ToJsonReq(payload)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+path+"?access_token="+url.QueryEscape(token), body)
		if err != nil {
			return err
		}
		if err := c.do(req, out); err != nil {
			return err
		}
		base := code()
		if expiredTokenCodes[base.ErrCode] && attempt == 0 {
			c.invalidateToken(ctx)
			continue
		}
		return checkCode(base)
	}
	return nil
}

// do executes the request and classifies transport and HTTP level failures.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := request.Call(c.httpClient, req, out)
	if resp == nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	case err != nil:
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func checkCode(base baseResponse) error {
	if base.ErrCode == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRejected, &APIError{Code: base.ErrCode, Message: base.ErrMsg})
}
