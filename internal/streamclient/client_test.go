package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemark-io/pagemark/internal/models"
)

// writeSSE emits raw data records. Handlers run off the test goroutine, so
// helpers here only use assert, never require.
func writeSSE(w http.ResponseWriter, records ...string) {
	fl, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	for _, rec := range records {
		fmt.Fprintf(w, "data: %s\n\n", rec)
		if fl != nil {
			fl.Flush()
		}
	}
}

func TestClient_StreamChatDispatchesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "doc-1", req.DocumentID)
		assert.Equal(t, []models.ChatMessage{{Role: models.RoleUser, Content: "what is a pin?"}}, req.Messages)

		writeSSE(w,
			`{"type":"role","role":"assistant"}`,
			`{"type":"content","content":"A pin ends the match."}`,
			`{"type":"page_images","pages":[{"url":"https://cdn.test/p9.png","pageNumber":9}]}`,
			DoneSentinel,
		)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithToken("tok-1"))
	require.NoError(t, err)

	var events []Event
	err = c.StreamChat(context.Background(), "doc-1",
		[]models.ChatMessage{{Role: models.RoleUser, Content: "what is a pin?"}},
		func(ev Event) error {
			events = append(events, ev)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []Event{
		{Type: EventRole, Role: "assistant"},
		{Type: EventContent, Content: "A pin ends the match."},
		{Type: EventPageImages, Pages: []models.PageRef{{URL: "https://cdn.test/p9.png", PageNumber: 9}}},
		{Type: EventDone},
	}, events)
}

func TestClient_StreamChatErrorBeforeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"the model backend is rate limiting requests, try again in a moment"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	var events []Event
	err = c.StreamChat(context.Background(), "doc-1", nil, func(ev Event) error {
		events = append(events, ev)
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limiting")
	assert.Empty(t, events)
}

func TestClient_StreamChatEOFWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"type":"content","content":"partial"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	var events []Event
	err = c.StreamChat(context.Background(), "doc-1", nil, func(ev Event) error {
		events = append(events, ev)
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "before the done sentinel")
	assert.Equal(t, []Event{{Type: EventContent, Content: "partial"}}, events)
}

func TestClient_StreamChatOnEventErrorAbandonsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"type":"content","content":"a"}`,
			`{"type":"content","content":"b"}`,
			DoneSentinel,
		)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	stop := errors.New("stop consuming")
	seen := 0
	err = c.StreamChat(context.Background(), "doc-1", nil, func(ev Event) error {
		seen++
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestClient_LoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/login", r.URL.Path)

		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "reader@example.com", creds.Email)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token":"issued-token"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	token, err := c.Login(context.Background(), "reader@example.com", "hunter2walks")
	require.NoError(t, err)
	assert.Equal(t, "issued-token", token)
	assert.Equal(t, "issued-token", c.token)
}

func TestClient_ListDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode([]models.Document{
			{ID: "d1", Name: "Wrestling Rules", Status: models.StatusReady},
		}))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithToken("tok"))
	require.NoError(t, err)

	docs, err := c.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, models.StatusReady, docs[0].Status)
}

func TestClient_NewClientNormalizesURL(t *testing.T) {
	c, err := NewClient("  http://localhost:8888/  ")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888", c.baseURL)

	_, err = NewClient("   ")
	assert.Error(t, err)
}
