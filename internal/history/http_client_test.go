package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/pkg/response"
)

type fakeBackend struct {
	mu         sync.Mutex
	lastQuery  map[string]string
	lastAuth   string
	lastSend   domain.SendMessageRequest
	pageCalls  atomic.Int32
	pageGate   chan struct{}
	failPages  bool
	echoOnSend bool
	readCalls  atomic.Int32
}

func (b *fakeBackend) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	api := r.Group("/api")
	{
		api.GET("/conversations", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": 200, "success": true, "data": []gin.H{
				{"id": 1, "type": "DIRECT"},
				{"id": 2, "type": "GROUP", "name": "team"},
			}})
		})
		api.GET("/conversations/:id", func(c *gin.Context) {
			if c.Param("id") == "404" {
				c.JSON(http.StatusNotFound, gin.H{"status": 404, "success": false, "message": "conversation not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": 200, "success": true, "data": gin.H{
				"id":   42,
				"type": "DIRECT",
				"members": []gin.H{
					{"userId": 7, "nickname": "me"},
					{"userId": 9, "nickname": "alice", "avatar": "a.png"},
				},
			}})
		})
		api.GET("/conversations/:id/messages", func(c *gin.Context) {
			b.pageCalls.Add(1)
			b.mu.Lock()
			b.lastQuery = map[string]string{
				"userId": c.Query("userId"),
				"limit":  c.Query("limit"),
				"before": c.Query("before"),
			}
			b.lastAuth = c.GetHeader("Authorization")
			gate := b.pageGate
			fail := b.failPages
			b.mu.Unlock()

			if gate != nil {
				<-gate
			}
			if fail {
				c.JSON(http.StatusInternalServerError, gin.H{"status": 500, "success": false, "message": "boom"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": 200, "success": true, "data": gin.H{
				"data": []gin.H{
					{"id": "a", "conversationId": 42, "content": "hi", "type": "TEXT", "createdAt": "2026-01-20T10:00:00Z", "senderId": 9},
					{"id": "b", "conversationId": 42, "content": "yo", "type": "TEXT", "createdAt": "2026-01-20T10:01:00Z", "senderId": 7},
				},
				"nextCursor": "2026-01-20T10:00:00Z",
				"hasNext":    true,
			}})
		})
		api.POST("/messages/send", func(c *gin.Context) {
			var req domain.SendMessageRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"status": 400, "success": false, "message": err.Error()})
				return
			}
			b.mu.Lock()
			b.lastSend = req
			echo := b.echoOnSend
			b.mu.Unlock()
			if echo {
				c.JSON(http.StatusOK, gin.H{"status": 200, "success": true, "data": gin.H{
					"id": "sent-1", "content": req.Content, "type": req.Type, "senderId": 7,
				}})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": 200, "success": true, "message": "sent"})
		})
		api.POST("/conversations/:id/read", func(c *gin.Context) {
			b.readCalls.Add(1)
			c.Status(http.StatusOK)
		})
	}
	return r
}

func newTestClient(t *testing.T, b *fakeBackend) Service {
	t.Helper()
	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)

	svc, err := NewHTTPClient(Options{
		BaseURL: srv.URL + "/api/",
		Timeout: 5 * time.Second,
		Token:   func() string { return "tok" },
	})
	require.NoError(t, err)
	return svc
}

func TestFetchPage_LatestPage(t *testing.T) {
	b := &fakeBackend{}
	svc := newTestClient(t, b)

	page, err := svc.FetchPage(context.Background(), 42, 7, "", 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 2)
	assert.Equal(t, "a", page.Messages[0].ID)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2026-01-20T10:00:00Z", page.Cursor())

	assert.Equal(t, map[string]string{"userId": "7", "limit": "20", "before": ""}, b.lastQuery)
	assert.Equal(t, "Bearer tok", b.lastAuth)
}

func TestFetchPage_BeforeCursor(t *testing.T) {
	b := &fakeBackend{}
	svc := newTestClient(t, b)

	_, err := svc.FetchPage(context.Background(), 42, 7, "2026-01-20T10:00:00Z", 20)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-20T10:00:00Z", b.lastQuery["before"])
}

func TestFetchPage_FailureIsNotExhaustion(t *testing.T) {
	b := &fakeBackend{failPages: true}
	svc := newTestClient(t, b)

	page, err := svc.FetchPage(context.Background(), 42, 7, "", 20)
	require.Error(t, err)
	assert.Nil(t, page)

	var failure *response.Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, http.StatusInternalServerError, failure.StatusCode)
	assert.Equal(t, "boom", failure.Message)
}

func TestFetchPage_OverlappingCallsShareOneRequest(t *testing.T) {
	b := &fakeBackend{pageGate: make(chan struct{})}
	svc := newTestClient(t, b)

	var wg sync.WaitGroup
	results := make([]*domain.Page, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.FetchPage(context.Background(), 42, 7, "c1", 20)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	require.Eventually(t, func() bool { return b.pageCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the second caller time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(b.pageGate)
	wg.Wait()

	assert.Equal(t, int32(1), b.pageCalls.Load())
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	results[0].Messages[0].ID = "mutated"
	assert.Equal(t, "a", results[1].Messages[0].ID)
}

func TestFetchPage_CallerCancellation(t *testing.T) {
	b := &fakeBackend{pageGate: make(chan struct{})}
	svc := newTestClient(t, b)
	defer close(b.pageGate)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := svc.FetchPage(ctx, 42, 7, "", 20)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetConversation(t *testing.T) {
	svc := newTestClient(t, &fakeBackend{})

	conv, err := svc.GetConversation(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(42), conv.ID)
	assert.Equal(t, "alice", conv.DisplayName(7))
	assert.Equal(t, "a.png", conv.DisplayAvatar(7))

	_, err = svc.GetConversation(context.Background(), 404, 7)
	var failure *response.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, http.StatusNotFound, failure.StatusCode)
}

func TestListConversations(t *testing.T) {
	svc := newTestClient(t, &fakeBackend{})

	convs, err := svc.ListConversations(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "team", convs[1].DisplayName(7))
}

func TestSendMessage(t *testing.T) {
	t.Run("ack without body", func(t *testing.T) {
		b := &fakeBackend{}
		svc := newTestClient(t, b)

		sent, err := svc.SendMessage(context.Background(), 7, domain.SendMessageRequest{
			Content: "hello", Type: domain.MessageTypeText, ConversationID: 42,
		})
		require.NoError(t, err)
		assert.Nil(t, sent)
		assert.Equal(t, "hello", b.lastSend.Content)
		assert.Equal(t, int64(42), b.lastSend.ConversationID)
	})

	t.Run("ack with message", func(t *testing.T) {
		b := &fakeBackend{echoOnSend: true}
		svc := newTestClient(t, b)

		sent, err := svc.SendMessage(context.Background(), 7, domain.SendMessageRequest{
			Content: "hello", Type: domain.MessageTypeText, ConversationID: 42,
		})
		require.NoError(t, err)
		require.NotNil(t, sent)
		assert.Equal(t, "sent-1", sent.ID)
		assert.Equal(t, int64(42), sent.ConversationID)
	})
}

func TestMarkRead_EmptyBodyIsSuccess(t *testing.T) {
	b := &fakeBackend{}
	svc := newTestClient(t, b)

	require.NoError(t, svc.MarkRead(context.Background(), 42, 7))
	assert.Equal(t, int32(1), b.readCalls.Load())
}

func TestNewHTTPClient_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPClient(Options{BaseURL: "not a url"})
	assert.Error(t, err)
}
