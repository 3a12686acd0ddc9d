// Package httputil provides HTTP response helpers and the encrypting footprint client.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Encrypter turns a plaintext body into wire ciphertext text.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Client talks to the gateway the way mobile clients do: JSON bodies are encrypted with
// the shared body key and the access token travels in the credential header.
type Client struct {
	httpClient  *http.Client
	encrypter   Encrypter
	token       string
	tokenHeader string
	baseURL     string
	maxRetries  int
}

// ClientConfig configures the client.
type ClientConfig struct {
	Encrypter   Encrypter
	Token       string
	TokenHeader string
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// NewClient creates a new encrypting client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	header := cfg.TokenHeader
	if header == "" {
		header = "X-ACCESS-TOKEN"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient:  httpClient,
		encrypter:   cfg.Encrypter,
		token:       cfg.Token,
		tokenHeader: header,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:  maxRetries,
	}
}

// Do executes a request. A non-nil body is marshalled to JSON and encrypted.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		plain, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		if payload, err = c.Seal(plain); err != nil {
			return nil, err
		}
	}
	return c.doWithRetry(ctx, method, path, payload, 0)
}

// Seal encrypts an already serialized body.
func (c *Client) Seal(plain []byte) ([]byte, error) {
	if c.encrypter == nil {
		return nil, errors.New("client has no body encrypter")
	}
	sealed, err := c.encrypter.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt request body: %w", err)
	}
	return sealed, nil
}

// doWithRetry retries transport errors and 5xx responses. 4xx rejections are final.
func (c *Client) doWithRetry(ctx context.Context, method, path string, payload []byte, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	if c.token != "" {
		if strings.EqualFold(c.tokenHeader, "Authorization") {
			req.Header.Set("Authorization", "Bearer "+c.token)
		} else {
			req.Header.Set(c.tokenHeader, c.token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attempt < c.maxRetries && ctx.Err() == nil {
			return c.doWithRetry(ctx, method, path, payload, attempt+1)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 500 && attempt < c.maxRetries {
		resp.Body.Close()
		return c.doWithRetry(ctx, method, path, payload, attempt+1)
	}

	return resp, nil
}

func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body)
}

// DecodeResponse decodes a JSON response into target, or returns the rejection as an error.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		var rejection ErrorBody
		if json.Unmarshal(body, &rejection) == nil && rejection.Error.Code != "" {
			return &ResponseError{StatusCode: resp.StatusCode, Code: rejection.Error.Code, Message: rejection.Error.Message}
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &ResponseError{StatusCode: resp.StatusCode, Message: msg}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// ResponseError is a non-2xx gateway response.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed with status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// ErrBodyTooLarge is returned by ReadAllStrict when the limit is exceeded.
var ErrBodyTooLarge = errors.New("body exceeds limit")

// ReadAllWithLimit reads at most limit bytes and reports whether more were available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads the whole reader, failing with ErrBodyTooLarge past limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w of %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}
