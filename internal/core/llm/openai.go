package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/httpx"
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	embeddingsPath      = "/v1/embeddings"
)

// OpenAI talks to any OpenAI-compatible server (api.openai.com, vLLM,
// LM Studio) over plain HTTP. One client serves both the chat and the
// embeddings surface.
type OpenAI struct {
	baseURL    string
	apiKey     string
	genModel   string
	embedModel string
	timeout    time.Duration
	httpc      *http.Client
}

func NewOpenAI(apiKey, baseURL, genModel, embedModel string) *OpenAI {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if genModel == "" {
		genModel = "gpt-4o-mini"
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &OpenAI{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		genModel:   genModel,
		embedModel: embedModel,
		timeout:    60 * time.Second,
		httpc:      &http.Client{Transport: tr},
	}
}

// NewOpenAIWithHTTPClient is intended for tests; it avoids network access
// by using a custom RoundTripper.
func NewOpenAIWithHTTPClient(apiKey, baseURL, genModel, embedModel string, httpc *http.Client) *OpenAI {
	o := NewOpenAI(apiKey, baseURL, genModel, embedModel)
	if httpc != nil {
		o.httpc = httpc
	}
	return o
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// messageContent accepts the two shapes servers use for message content,
// a plain JSON string or an array of typed parts, and collapses either
// into one string. The union stops at this decoder.
type messageContent string

func (m *messageContent) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		*m = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*m = messageContent(s)
		return nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return err
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	*m = messageContent(b.String())
	return nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content messageContent `json:"content,omitempty"`
		} `json:"message,omitempty"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content messageContent `json:"content,omitempty"`
		} `json:"delta,omitempty"`
	} `json:"choices"`
	Error any `json:"error,omitempty"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (o *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := embeddingsRequest{Model: o.embedModel, Input: texts}
	var resp embeddingsResponse
	if err := o.doJSON(ctx, http.MethodPost, embeddingsPath, req, &resp); err != nil {
		return nil, classify(err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("openai embeddings: missing vector for input %d", i)
		}
	}
	return out, nil
}

func (o *OpenAI) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msgs := make([]wireMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, wireMessage{Role: models.RoleUser, Content: userPrompt})

	var resp chatResponse
	err := o.doJSON(ctx, http.MethodPost, chatCompletionsPath, chatRequest{
		Model:    o.genModel,
		Messages: msgs,
	}, &resp)
	if err != nil {
		return "", classify(err)
	}

	for _, c := range resp.Choices {
		if text := string(c.Message.Content); strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return "", errors.New("openai: empty completion")
}

// StreamChat sends the full turn history with stream enabled and feeds
// each delta to onDelta as it is decoded off the wire.
func (o *OpenAI) StreamChat(ctx context.Context, systemPrompt string, history []models.ChatMessage, onDelta func(delta string) error) (string, error) {
	if len(history) == 0 {
		return "", errors.New("openai stream: empty history")
	}

	msgs := make([]wireMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		role := models.RoleUser
		if m.Role == models.RoleAssistant {
			role = models.RoleAssistant
		}
		msgs = append(msgs, wireMessage{Role: role, Content: m.Content})
	}

	var buf bytes.Buffer
	err := json.NewEncoder(&buf).Encode(chatRequest{
		Model:    o.genModel,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+chatCompletionsPath, &buf)
	if err != nil {
		return "", err
	}
	o.setHeaders(req, "text/event-stream")

	resp, err := o.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classify(httpErrorFrom(resp))
	}

	var full strings.Builder
	err = readSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			b, _ := json.Marshal(chunk.Error)
			return fmt.Errorf("openai stream: upstream error: %s", string(b))
		}

		for _, c := range chunk.Choices {
			text := string(c.Delta.Content)
			if text == "" {
				continue
			}
			full.WriteString(text)
			if onDelta != nil {
				if cbErr := onDelta(text); cbErr != nil {
					return cbErr
				}
			}
		}
		return nil
	})
	if err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

func (o *OpenAI) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

func (o *OpenAI) doJSON(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx2, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, method, o.baseURL+path, &buf)
	if err != nil {
		return err
	}
	o.setHeaders(req, "application/json")

	resp, err := o.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpErrorFrom(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func httpErrorFrom(resp *http.Response) *HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
		RetryAfter: httpx.RetryAfterDuration(resp, 0, 0),
	}
}

var (
	_ core.EmbeddingProvider = (*OpenAI)(nil)
	_ core.LLMProvider       = (*OpenAI)(nil)
)
