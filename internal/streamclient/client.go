package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pagemark-io/pagemark/internal/models"
)

// Client talks to a pagemark server: JSON endpoints for auth and documents,
// and the streaming chat endpoint.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpc = hc
		}
	}
}

// NewClient builds a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("server URL required")
	}
	c := &Client{baseURL: baseURL, httpc: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) { c.token = strings.TrimSpace(token) }

// Login exchanges credentials for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	req := map[string]string{"email": email, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("login response missing token")
	}
	c.token = resp.Token
	return resp.Token, nil
}

// ListDocuments returns the caller's documents.
func (c *Client) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	if err := c.doJSON(ctx, http.MethodGet, "/api/documents", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// GetDocument fetches one document, the poll target while ingestion runs.
func (c *Client) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	path := "/api/documents/" + documentID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

type chatRequest struct {
	Messages   []models.ChatMessage `json:"messages"`
	DocumentID string               `json:"documentId"`
}

// StreamChat posts the conversation and feeds every parsed record to onEvent
// until the [DONE] sentinel. A non-nil error from onEvent abandons the
// stream and is returned unchanged.
func (c *Client) StreamChat(ctx context.Context, documentID string, history []models.ChatMessage, onEvent func(Event) error) error {
	body, err := json.Marshal(chatRequest{Messages: history, DocumentID: documentID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req, "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return errorFromResponse(resp.StatusCode, raw)
	}

	parser := NewParser()
	buf := make([]byte, 2048)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				if onEvent != nil {
					if err := onEvent(ev); err != nil {
						return err
					}
				}
				if ev.Type == EventDone {
					return nil
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if parser.Done() {
					return nil
				}
				return errors.New("stream ended before the done sentinel")
			}
			return readErr
		}
	}
}

func (c *Client) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	c.setHeaders(req, "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func errorFromResponse(status int, raw []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		return fmt.Errorf("server returned %d: %s", status, payload.Error)
	}
	return fmt.Errorf("server returned %d", status)
}
