// Package remote talks to the chat server: conversation fetches, the chat event
// stream and conversation deletion.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("conversation not found on server")

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	// streamClient has no timeout, streams only end when the server closes them
	streamClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
		cl.streamClient = c
	}
}

// WithTimeout bounds conversation fetches and deletes. Zero disables the timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		c := *cl.httpClient
		c.Timeout = d
		cl.httpClient = &c
	}
}

func NewClient(baseURL string, opts URLOptions, options ...ClientOption) (*Client, error) {
	u, err := ParseBaseURL(baseURL, opts)
	if err != nil {
		return nil, err
	}
	ret := &Client{
		baseURL:      u,
		httpClient:   &http.Client{},
		streamClient: &http.Client{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

type remoteMessage struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type remoteConversation struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Messages []remoteMessage `json:"messages"`
}

// Conversation is a conversation as returned by the server.
type Conversation struct {
	ID       string
	Title    string
	Messages []conversation.Message
}

func messageType(m remoteMessage) conversation.MessageType {
	if t := conversation.MessageType(m.Type); t.Valid() {
		return t
	}
	switch strings.ToLower(m.Role) {
	case "assistant", "bot":
		return conversation.MessageTypeBot
	case "system":
		return conversation.MessageTypeSystem
	default:
		return conversation.MessageTypeUser
	}
}

// FetchConversation loads a conversation with GET /conversation?id=.
// A 404 yields ErrNotFound, any other non-2xx status a *StatusError.
// Messages are stamped with the fetch time since the server does not send timestamps.
func (c *Client) FetchConversation(ctx context.Context, id string) (*Conversation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/conversation", url.Values{"id": {id}}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not create conversation request")
	}
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("id", id).Str("url", req.URL.String()).Msg("Fetching conversation")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch conversation %s", id)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var body remoteConversation
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrapf(err, "could not decode conversation %s", id)
	}

	now := time.Now()
	ret := &Conversation{
		ID:       id,
		Title:    body.Title,
		Messages: make([]conversation.Message, 0, len(body.Messages)),
	}
	for _, m := range body.Messages {
		ret.Messages = append(ret.Messages, conversation.NewMessage(messageType(m), m.Content, conversation.WithTime(now)))
	}
	return ret, nil
}

// DeleteConversation removes the conversation on the server. Deleting an unknown
// conversation yields ErrNotFound.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/conversation/delete", url.Values{"id": {id}}), nil)
	if err != nil {
		return errors.Wrap(err, "could not create delete request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "could not delete conversation %s", id)
	}
	defer func() { _ = resp.Body.Close() }()

	return checkStatus(resp)
}

// OpenStream starts GET /chat?conversationId=&message= and returns the frame stream.
// The request lives as long as ctx or until the stream is closed.
func (c *Client) OpenStream(ctx context.Context, conversationID string, text string) (*Stream, error) {
	q := url.Values{
		"conversationId": {conversationID},
		"message":        {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/chat", q), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not create chat request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	log.Debug().Str("conversation_id", conversationID).Msg("Opening chat stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not open chat stream")
	}
	if err := checkStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	return NewStream(resp.Body), nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
	}
}
