package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var localOpts = URLOptions{AllowHTTP: true, AllowLocalNetworks: true}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", localOpts)
	require.NoError(t, err)
	return c
}

func TestFetchConversation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversation", r.URL.Path)
		assert.Equal(t, "conv_1", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"conv_1","title":"T","messages":[
			{"type":"user","content":"hi"},
			{"role":"assistant","content":"hello"},
			{"role":"user","content":"again"}
		],"summary":""}`)
	}))

	conv, err := c.FetchConversation(context.Background(), "conv_1")
	require.NoError(t, err)
	assert.Equal(t, "T", conv.Title)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, conversation.MessageTypeUser, conv.Messages[0].Type)
	assert.Equal(t, conversation.MessageTypeBot, conv.Messages[1].Type)
	assert.Equal(t, "hello", conv.Messages[1].Content)
	assert.Equal(t, conversation.MessageTypeUser, conv.Messages[2].Type)
}

func TestFetchConversationStatusErrors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "conv_404":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))

	_, err := c.FetchConversation(context.Background(), "conv_404")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchConversation(context.Background(), "conv_500")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestFetchConversationTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, localOpts, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = c.FetchConversation(context.Background(), "conv_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDeleteConversation(t *testing.T) {
	deleted := ""
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/conversation/delete", r.URL.Path)
		deleted = r.URL.Query().Get("id")
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.DeleteConversation(context.Background(), "conv_7"))
	assert.Equal(t, "conv_7", deleted)
}

func TestOpenStreamReadsFrames(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "conv_1", r.URL.Query().Get("conversationId"))
		assert.Equal(t, "hello there", r.URL.Query().Get("message"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: \"Hel\"\n\n")
		fmt.Fprint(w, "event: message\ndata: \"lo\"\n\n")
		fmt.Fprint(w, "data: {\"event\": \"title\", \"title\": \"Greeting\"}\r\n\r\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	s, err := c.OpenStream(context.Background(), "conv_1", "hello there")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var frames []string
	for {
		f, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames = append(frames, string(f))
	}
	assert.Equal(t, []string{`"Hel"`, `"lo"`, `{"event": "title", "title": "Greeting"}`, "[DONE]"}, frames)
}

func TestOpenStreamStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.OpenStream(context.Background(), "conv_1", "x")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestStreamNextHonorsCancellation(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	s := NewStream(pr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStreamLastLineWithoutNewline(t *testing.T) {
	s := NewStream(io.NopCloser(strings.NewReader("data: \"a\"\n[DONE]")))
	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(f))
	f, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", string(f))
	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestParseBaseURL(t *testing.T) {
	u, err := ParseBaseURL("https://chat.example.com/api/", URLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/api", u.String())

	for _, raw := range []string{
		"http://chat.example.com",
		"ftp://chat.example.com",
		"https://localhost:8080",
		"https://127.0.0.1",
		"https://10.0.0.5",
		"https://",
	} {
		_, err := ParseBaseURL(raw, URLOptions{})
		assert.Error(t, err, raw)
	}

	_, err = ParseBaseURL("http://localhost:8080", localOpts)
	require.NoError(t, err)
}
