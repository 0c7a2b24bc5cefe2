// Package handbook is the client-side sync layer of the Handbook social
// network: a query cache kept consistent with the REST backend by cache
// patches, invalidations and a real-time event bridge.
//
// Example:
//
//	client := handbook.NewClient(token, handbook.WithBaseURL("https://api.handbook.vn"))
//	cache := handbook.NewQueryCache()
//
//	msgs, _, _ := client.Messages.LoadNext(ctx, cache, "conv-1")
//
//	sock := client.Realtime.WS(&handbook.RealtimeConfig{AutoReconnect: true})
//	sess, _ := handbook.ParseSession(token)
//	bridge := handbook.NewBridge(cache, handbook.WithNotifier(notifier))
//	bridge.Attach(sock, sess)
//	_ = sock.Connect(ctx)
package handbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "http://localhost:8000/api/v1"
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 20
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger

	Messages      *MessagesClient
	Conversations *ConversationsClient
	Notifications *NotificationsClient
	Friends       *FriendsClient
	Comments      *CommentsClient
	Realtime      *RealtimeClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithPageSize(n int) ClientOption {
	return func(c *Client) { c.pageSize = n }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Handbook client authenticated with a session token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:    token,
		baseURL:  DefaultBaseURL,
		pageSize: DefaultPageSize,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Messages = &MessagesClient{c: c}
	c.Conversations = &ConversationsClient{c: c}
	c.Notifications = &NotificationsClient{c: c}
	c.Friends = &FriendsClient{c: c}
	c.Comments = &CommentsClient{c: c}
	c.Realtime = &RealtimeClient{c: c}
	return c
}

// SetToken replaces the session token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

// Result is the response envelope of the Handbook API.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the data field into v.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("empty response data")
	}
	return json.Unmarshal(r.Data, v)
}

func (c *Client) do(ctx context.Context, method, path string, body any, query url.Values) (*Result, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 300 && len(bytes.TrimSpace(data)) == 0 {
		return &Result{Success: true}, nil
	}
	result, decodeErr := decodeJSON[Result](data)
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil {
			if result.Error != nil {
				apiErr.Code = result.Error.Code
				apiErr.Message = result.Error.Message
			} else if result.Message != "" {
				apiErr.Message = result.Message
			}
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return result, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func getInto[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var v T
	res, err := c.do(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return v, err
	}
	if err := res.Decode(&v); err != nil {
		return v, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

func (c *Client) pageQuery(page int) url.Values {
	return url.Values{
		"page":      {strconv.Itoa(page)},
		"page_size": {strconv.Itoa(c.pageSize)},
	}
}

// fetchPage loads one page and reports a next page when the backend says so
// or, lacking that, when the page came back full.
func fetchPage[T any](ctx context.Context, c *Client, path string, page int) (PageResult[T], error) {
	res, err := c.do(ctx, http.MethodGet, path, nil, c.pageQuery(page))
	if err != nil {
		return PageResult[T]{}, err
	}
	var items []T
	if err := res.Decode(&items); err == nil {
		return PageResult[T]{Items: items, HasMore: len(items) >= c.pageSize}, nil
	}
	var pr PageResult[T]
	if err := res.Decode(&pr); err != nil {
		return PageResult[T]{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return pr, nil
}

// ============================================================================
// Sub-clients
// ============================================================================

// MessagesClient reads and writes conversation messages.
type MessagesClient struct{ c *Client }

func (m *MessagesClient) Page(ctx context.Context, conversationID string, page int) (PageResult[Message], error) {
	return fetchPage[Message](ctx, m.c, "/conversations/"+url.PathEscape(conversationID)+"/messages", page)
}

// LoadNext fetches the next page of a conversation into the cache.
func (m *MessagesClient) LoadNext(ctx context.Context, cache *QueryCache, conversationID string) (Paginated[Message], bool, error) {
	return FetchNextPage(ctx, cache, MessagesKey(conversationID), func(ctx context.Context, page int) (PageResult[Message], error) {
		return m.Page(ctx, conversationID, page)
	})
}

func (m *MessagesClient) Pinned(ctx context.Context, conversationID string) ([]Message, error) {
	return getInto[[]Message](ctx, m.c, "/conversations/"+url.PathEscape(conversationID)+"/messages/pinned", nil)
}

// LoadPinned returns the pinned messages, from the cache while fresh.
func (m *MessagesClient) LoadPinned(ctx context.Context, cache *QueryCache, conversationID string) (Paginated[Message], error) {
	return FetchAs(ctx, cache, PinnedMessagesKey(conversationID), func(ctx context.Context) (Paginated[Message], error) {
		msgs, err := m.Pinned(ctx, conversationID)
		if err != nil {
			return Paginated[Message]{}, err
		}
		return Paginated[Message]{Pages: [][]Message{msgs}, PageParams: []int{1}}, nil
	})
}

// SendMessageInput is the body of a new message.
type SendMessageInput struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

func (m *MessagesClient) Send(ctx context.Context, conversationID string, in SendMessageInput) (*Message, error) {
	res, err := m.c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", in, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

func (m *MessagesClient) Delete(ctx context.Context, messageID string) error {
	_, err := m.c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
	return err
}

func (m *MessagesClient) Pin(ctx context.Context, messageID string) error {
	_, err := m.c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID)+"/pin", nil, nil)
	return err
}

func (m *MessagesClient) Unpin(ctx context.Context, messageID string) error {
	_, err := m.c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID)+"/pin", nil, nil)
	return err
}

// ConversationsClient lists a user's conversations.
type ConversationsClient struct{ c *Client }

func (cv *ConversationsClient) Page(ctx context.Context, userID string, page int) (PageResult[Conversation], error) {
	return fetchPage[Conversation](ctx, cv.c, "/users/"+url.PathEscape(userID)+"/conversations", page)
}

func (cv *ConversationsClient) LoadNext(ctx context.Context, cache *QueryCache, userID string) (Paginated[Conversation], bool, error) {
	return FetchNextPage(ctx, cache, ConversationsKey(userID), func(ctx context.Context, page int) (PageResult[Conversation], error) {
		return cv.Page(ctx, userID, page)
	})
}

// NotificationsClient reads a user's notifications.
type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) Page(ctx context.Context, userID string, page int) (PageResult[Notification], error) {
	return fetchPage[Notification](ctx, n.c, "/users/"+url.PathEscape(userID)+"/notifications", page)
}

func (n *NotificationsClient) LoadNext(ctx context.Context, cache *QueryCache, userID string) (Paginated[Notification], bool, error) {
	return FetchNextPage(ctx, cache, NotificationsKey(userID), func(ctx context.Context, page int) (PageResult[Notification], error) {
		return n.Page(ctx, userID, page)
	})
}

func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) error {
	_, err := n.c.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(notificationID)+"/read", nil, nil)
	return err
}

// FriendsClient reads the friend list and answers friend requests.
type FriendsClient struct{ c *Client }

func (f *FriendsClient) Page(ctx context.Context, userID string, page int) (PageResult[User], error) {
	return fetchPage[User](ctx, f.c, "/users/"+url.PathEscape(userID)+"/friends", page)
}

func (f *FriendsClient) LoadNext(ctx context.Context, cache *QueryCache, userID string) (Paginated[User], bool, error) {
	return FetchNextPage(ctx, cache, FriendsKey(userID), func(ctx context.Context, page int) (PageResult[User], error) {
		return f.Page(ctx, userID, page)
	})
}

func (f *FriendsClient) Accept(ctx context.Context, requestID string) error {
	_, err := f.c.do(ctx, http.MethodPost, "/friend-requests/"+url.PathEscape(requestID)+"/accept", nil, nil)
	return err
}

func (f *FriendsClient) Unfriend(ctx context.Context, friendID string) error {
	_, err := f.c.do(ctx, http.MethodDelete, "/friends/"+url.PathEscape(friendID), nil, nil)
	return err
}

// CommentsClient reads a post's comments.
type CommentsClient struct{ c *Client }

func (cm *CommentsClient) Page(ctx context.Context, postID string, page int) (PageResult[Comment], error) {
	return fetchPage[Comment](ctx, cm.c, "/posts/"+url.PathEscape(postID)+"/comments", page)
}

func (cm *CommentsClient) LoadNext(ctx context.Context, cache *QueryCache, postID string) (Paginated[Comment], bool, error) {
	return FetchNextPage(ctx, cache, CommentsKey(postID), func(ctx context.Context, page int) (PageResult[Comment], error) {
		return cm.Page(ctx, postID, page)
	})
}

// RealtimeClient creates real-time sockets for the client's backend.
type RealtimeClient struct{ c *Client }

func (r *RealtimeClient) config(config *RealtimeConfig) *RealtimeConfig {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = r.c.token
	}
	if cfg.Logger == nil {
		cfg.Logger = r.c.logger
	}
	return &cfg
}

// WS creates a WebSocket socket. Call Connect to dial.
func (r *RealtimeClient) WS(config *RealtimeConfig) *WSSocket {
	return NewWSSocket(r.c.baseURL, r.config(config))
}

// SSE creates an SSE socket. Call Connect to open the stream.
func (r *RealtimeClient) SSE(config *RealtimeConfig) *SSESocket {
	return NewSSESocket(r.c.baseURL, r.config(config))
}
