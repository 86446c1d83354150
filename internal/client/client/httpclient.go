package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
	"github.com/dmitrijs2005/planbook/internal/common"
)

const maxErrorBody = 64 << 10

// HTTPClient implements Client over the planbook REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client (tests use it to
// install a fake transport).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.http = c }
}

// NewHTTPClient returns a client for the server at baseURL. timeout bounds
// every single request, independently of the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration, token TokenSource, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, common.APIPrefix+"/ping", nil, nil)
}

func (c *HTTPClient) Create(ctx context.Context, kind models.Kind, fields json.RawMessage) (*models.RemoteRecord, error) {
	var rec models.RemoteRecord
	if err := c.do(ctx, http.MethodPost, collectionPath(kind), fields, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) Update(ctx context.Context, kind models.Kind, remoteID int64, fields json.RawMessage) (*models.RemoteRecord, error) {
	var rec models.RemoteRecord
	if err := c.do(ctx, http.MethodPatch, recordPath(kind, remoteID), fields, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) Delete(ctx context.Context, kind models.Kind, remoteID int64) error {
	return c.do(ctx, http.MethodDelete, recordPath(kind, remoteID), nil, nil)
}

func (c *HTTPClient) ListSince(ctx context.Context, kind models.Kind, since *time.Time) ([]*models.RemoteRecord, error) {
	path := collectionPath(kind)
	if since != nil {
		q := url.Values{}
		q.Set(common.SinceQueryParam, since.UTC().Format(time.RFC3339Nano))
		path += "?" + q.Encode()
	}

	var out struct {
		Records []*models.RemoteRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func collectionPath(kind models.Kind) string {
	return common.APIPrefix + "/" + kind.Collection()
}

func recordPath(kind models.Kind, remoteID int64) string {
	return collectionPath(kind) + "/" + strconv.FormatInt(remoteID, 10)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body json.RawMessage, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("load access token: %w", err)
		}
		if token != "" {
			req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Cancellation by the caller stays recognisable as such.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return nil
	}

	return mapStatus(resp)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func mapStatus(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if len(data) > 0 {
		_ = json.Unmarshal(data, &eb)
	}
	if eb.Message == "" {
		eb.Message = strings.TrimSpace(string(data))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, eb.Message)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, eb.Message)
	default:
		return &APIError{StatusCode: resp.StatusCode, Code: eb.Error, Message: eb.Message}
	}
}

var _ Client = (*HTTPClient)(nil)
