package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldchart/fieldchart/internal/validation"
)

// Client is the HTTP implementation of RemoteAPI against the fieldchart
// server. All requests carry the configured timeout; a timeout is treated
// by callers exactly like any other network failure.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a RemoteAPI client. token is the bearer token used as
// the actor identity on the server; timeout bounds every request.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateEncounter implements RemoteAPI.
func (c *Client) CreateEncounter(ctx context.Context, snap *validation.Snapshot) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/encounters", snap, http.StatusCreated, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create encounter: server returned no id")
	}
	return out.ID, nil
}

// UpdateEncounter implements RemoteAPI.
func (c *Client) UpdateEncounter(ctx context.Context, id string, snap *validation.Snapshot) error {
	return c.do(ctx, http.MethodPut, "/api/encounters/"+id, snap, http.StatusOK, nil)
}

// SubmitForReview implements RemoteAPI. A 422 response is not an error:
// it carries the server's field validation verdict.
func (c *Client) SubmitForReview(ctx context.Context, id string, snap *validation.Snapshot) (*SubmitResult, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/encounters/"+id+"/submit", snap)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
		var sr SubmitResult
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return nil, fmt.Errorf("decode submit result: %w", err)
		}
		return &sr, nil
	default:
		return nil, statusError(resp)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s %s: status %d: %s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
}
