package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Skotchmaster/interview_prep/internal/tokenstore"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

// Refresher mints a new access token. An empty token with a nil error means
// no refresh was possible, for example because no refresh token is stored.
type Refresher interface {
	RefreshAccessToken(ctx context.Context) (string, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *tokenstore.Store

	mu        sync.RWMutex
	refresher Refresher
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func New(baseURL string, store *tokenstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		store: store,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetRefresher wires the coordinator used on 401 answers. The coordinator
// itself talks to the refresh endpoint through this client, hence the setter.
func (c *Client) SetRefresher(r Refresher) {
	c.mu.Lock()
	c.refresher = r
	c.mu.Unlock()
}

// Do sends an authenticated JSON request and decodes a successful answer into
// out. A 401 triggers one refresh and one retry with the new token.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	return c.request(ctx, method, path, body, out, true)
}

func (c *Client) request(ctx context.Context, method, path string, body, out any, retryAllowed bool) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, payload, c.accessToken(ctx))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && retryAllowed {
		if token, ok := c.tryRefresh(ctx, path); ok {
			discard(resp)
			// the retry is final: its 401, if any, is returned as is
			resp, err = c.send(ctx, method, path, payload, token)
			if err != nil {
				return err
			}
		}
	}
	defer resp.Body.Close()

	return decodeResponse(resp, path, out)
}

func (c *Client) tryRefresh(ctx context.Context, path string) (string, bool) {
	c.mu.RLock()
	r := c.refresher
	c.mu.RUnlock()
	if r == nil {
		return "", false
	}

	l := logging.FromContext(ctx).With("component", "apiclient", "path", path)
	token, err := r.RefreshAccessToken(ctx)
	if err != nil {
		l.Warn("retry_refresh_failed", "error", err)
		return "", false
	}
	if token == "" {
		l.Debug("retry_refresh_unavailable")
		return "", false
	}
	return token, true
}

func (c *Client) accessToken(ctx context.Context) string {
	if c.store == nil {
		return ""
	}
	token, err := c.store.GetAccessToken(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("read_access_token_failed", "error", err)
		return ""
	}
	return token
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Message: NetworkErrorMessage, Err: err}
	}
	return resp, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return payload, nil
}

func decodeResponse(resp *http.Response, path string, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	apiErr := &APIError{}
	if err := json.Unmarshal(raw, apiErr); err != nil || (apiErr.Message == "" && apiErr.Kind == "") {
		apiErr = &APIError{
			Kind:    http.StatusText(resp.StatusCode),
			Message: fmt.Sprintf("Request failed with status %d", resp.StatusCode),
		}
	}
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}
	if apiErr.Path == "" {
		apiErr.Path = path
	}
	return apiErr
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
