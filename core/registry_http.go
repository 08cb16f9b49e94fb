package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPRegistry talks to a registry service over its HTTP contract
// (implements Registry interface):
//
//	POST   /register                 201 {"uuid": "..."}
//	DELETE /withdraw/{id}            204, or 404 {"error": "..."}
//	GET    /discover?capability=x    200 [{"uuid","name","capabilities"}]
//	GET    /                         200 [{"uuid","name","capabilities"}]
type HTTPRegistry struct {
	baseURL string
	client  *http.Client
}

// HTTPRegistryOption configures an HTTPRegistry.
type HTTPRegistryOption func(*HTTPRegistry)

// WithHTTPClient replaces the default client, for example with one wrapped
// by an instrumented transport.
func WithHTTPClient(client *http.Client) HTTPRegistryOption {
	return func(r *HTTPRegistry) {
		if client != nil {
			r.client = client
		}
	}
}

// NewHTTPRegistry creates a client for the registry service at baseURL.
func NewHTTPRegistry(baseURL string, opts ...HTTPRegistryOption) (*HTTPRegistry, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid registry URL %q: %w", baseURL, ErrInvalidConfiguration)
	}
	r := &HTTPRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultRegistryTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// BaseURL returns the registry service address.
func (r *HTTPRegistry) BaseURL() string {
	return r.baseURL
}

type registerResponse struct {
	UUID string `json:"uuid"`
}

type registryErrorBody struct {
	Error string `json:"error"`
}

func (r *HTTPRegistry) Register(ctx context.Context, info *AgentInfo) (string, error) {
	if info == nil {
		return "", fmt.Errorf("nil agent info: %w", ErrInvalidArgument)
	}
	body, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to encode agent info: %w", err)
	}

	var out registerResponse
	if err := r.do(ctx, http.MethodPost, "/register", body, http.StatusCreated, &out); err != nil {
		return "", err
	}
	if out.UUID == "" {
		return "", fmt.Errorf("registry returned no uuid: %w", ErrRegistryResponse)
	}
	return out.UUID, nil
}

func (r *HTTPRegistry) Withdraw(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, "/withdraw/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

func (r *HTTPRegistry) Discover(ctx context.Context, capability string) ([]*AgentRef, error) {
	var refs []*AgentRef
	path := "/discover?capability=" + url.QueryEscape(capability)
	if err := r.do(ctx, http.MethodGet, path, nil, http.StatusOK, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *HTTPRegistry) FetchAll(ctx context.Context) ([]*AgentRef, error) {
	var refs []*AgentRef
	if err := r.do(ctx, http.MethodGet, "/", nil, http.StatusOK, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// Close releases idle connections.
func (r *HTTPRegistry) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// do performs one round trip. A 404 maps to ErrAgentNotFound, any other
// unexpected status to ErrRegistryResponse carrying the service's error text,
// and network failures to ErrConnectionFailed.
func (r *HTTPRegistry) do(ctx context.Context, method, path string, body []byte, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrConnectionFailed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %v: %w", method, path, err, ErrConnectionFailed)
	}

	if resp.StatusCode != want {
		msg := resp.Status
		var eb registryErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s %s: %s: %w", method, path, msg, ErrAgentNotFound)
		}
		return fmt.Errorf("%s %s: status %d: %s: %w", method, path, resp.StatusCode, msg, ErrRegistryResponse)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: malformed body: %v: %w", method, path, err, ErrRegistryResponse)
	}
	return nil
}
