package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-client/pkg/response"
)

// ErrMalformedResponse is returned when a successful envelope lacks the
// payload the operation needs.
var ErrMalformedResponse = errors.New("malformed response")

// TokenSource supplies the bearer token attached to every request.
type TokenSource func() string

type Options struct {
	BaseURL string
	Timeout time.Duration
	Token   TokenSource
	// Transport overrides the underlying round tripper; tests inject one.
	Transport http.RoundTripper
}

type httpClient struct {
	baseURL *url.URL
	client  *http.Client
	token   TokenSource
	pages   singleflight.Group
}

// NewHTTPClient builds a Service speaking the backend's REST API.
func NewHTTPClient(opts Options) (Service, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &httpClient{
		baseURL: u,
		client: &http.Client{
			Timeout:   timeout,
			Transport: log.NewTransport(opts.Transport),
		},
		token: opts.Token,
	}, nil
}

func (c *httpClient) GetConversation(ctx context.Context, conversationID, viewerID int64) (*domain.Conversation, error) {
	q := url.Values{"userId": {strconv.FormatInt(viewerID, 10)}}
	path := fmt.Sprintf("/conversations/%d", conversationID)

	env, err := doJSON[*domain.Conversation](ctx, c, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %d: %w", conversationID, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrMalformedResponse)
	}
	return env.Data, nil
}

func (c *httpClient) ListConversations(ctx context.Context, viewerID int64) ([]domain.Conversation, error) {
	q := url.Values{"userId": {strconv.FormatInt(viewerID, 10)}}

	env, err := doJSON[[]domain.Conversation](ctx, c, http.MethodGet, "/conversations", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return env.Data, nil
}

func (c *httpClient) FetchPage(ctx context.Context, conversationID, viewerID int64, before string, limit int) (*domain.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	// Overlapping requests for the same page share one round trip. The shared
	// call must not die with whichever caller happened to start it.
	key := fmt.Sprintf("%d:%d:%s:%d", conversationID, viewerID, before, limit)
	ch := c.pages.DoChan(key, func() (interface{}, error) {
		return c.fetchPage(context.WithoutCancel(ctx), conversationID, viewerID, before, limit)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		page := res.Val.(*domain.Page)
		// Callers own their copy of the message slice.
		out := *page
		out.Messages = append([]domain.Message(nil), page.Messages...)
		return &out, nil
	}
}

func (c *httpClient) fetchPage(ctx context.Context, conversationID, viewerID int64, before string, limit int) (*domain.Page, error) {
	q := url.Values{
		"userId": {strconv.FormatInt(viewerID, 10)},
		"limit":  {strconv.Itoa(limit)},
	}
	if before != "" {
		q.Set("before", before)
	}
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)

	env, err := doJSON[*domain.Page](ctx, c, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages of conversation %d: %w", conversationID, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("messages of conversation %d: %w", conversationID, ErrMalformedResponse)
	}
	if env.Data.Messages == nil {
		env.Data.Messages = []domain.Message{}
	}
	return env.Data, nil
}

func (c *httpClient) SendMessage(ctx context.Context, viewerID int64, req domain.SendMessageRequest) (*domain.Message, error) {
	q := url.Values{"userId": {strconv.FormatInt(viewerID, 10)}}

	env, err := doJSON[json.RawMessage](ctx, c, http.MethodPost, "/messages/send", q, req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	// The acknowledgment body is optional; only a well-formed message with an
	// id is handed back.
	var sent domain.Message
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &sent) != nil || sent.ID == "" {
		return nil, nil
	}
	if sent.ConversationID == 0 {
		sent.ConversationID = req.ConversationID
	}
	return &sent, nil
}

func (c *httpClient) MarkRead(ctx context.Context, conversationID, viewerID int64) error {
	q := url.Values{"userId": {strconv.FormatInt(viewerID, 10)}}
	path := fmt.Sprintf("/conversations/%d/read", conversationID)

	if _, err := doJSON[json.RawMessage](ctx, c, http.MethodPost, path, q, nil); err != nil {
		if errors.Is(err, response.ErrEmptyBody) {
			return nil
		}
		return fmt.Errorf("failed to mark conversation %d read: %w", conversationID, err)
	}
	return nil
}

func doJSON[T any](ctx context.Context, c *httpClient, method, path string, q url.Values, body interface{}) (*response.Envelope[T], error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = q.Encode()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return response.Decode[T](resp)
}
