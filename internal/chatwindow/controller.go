package chatwindow

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/internal/history"
	"github.com/weiawesome/wes-io-live/chat-client/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-client/internal/realtime"
	"github.com/weiawesome/wes-io-live/chat-client/internal/scroll"
	"github.com/weiawesome/wes-io-live/chat-client/internal/store"
	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

const (
	DefaultMarkReadInterval = 2 * time.Second
	mailboxSize             = 64
)

// ErrStopped is returned by operations issued after Run has returned.
var ErrStopped = errors.New("chat window stopped")

type Options struct {
	PageSize int
	// AppendAcknowledged appends the message echoed in a send acknowledgment
	// without waiting for the realtime echo. The store's id dedup collapses
	// the later push into it.
	AppendAcknowledged bool
	MarkReadInterval   time.Duration
	Scroll             scroll.Config
	Metrics            *metrics.Metrics
}

// Controller is the chat window for one open conversation at a time.
// All state is owned by the goroutine running Run; public methods and
// async completions are posted to its mailbox.
type Controller struct {
	history history.Service
	channel realtime.Channel
	viewer  Viewer
	opts    Options

	mailbox chan func()
	changes chan struct{}
	stopped chan struct{}

	// Owned by the Run goroutine.
	ctx context.Context
	st  state
}

var _ Window = (*Controller)(nil)

func New(hist history.Service, channel realtime.Channel, viewer Viewer, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = history.DefaultPageSize
	}
	if opts.MarkReadInterval <= 0 {
		opts.MarkReadInterval = DefaultMarkReadInterval
	}
	if opts.Scroll == (scroll.Config{}) {
		opts.Scroll = scroll.DefaultConfig()
	}

	return &Controller{
		history: hist,
		channel: channel,
		viewer:  viewer,
		opts:    opts,
		mailbox: make(chan func(), mailboxSize),
		changes: make(chan struct{}, 1),
		stopped: make(chan struct{}),
		ctx:     context.Background(),
		st: state{
			store:  store.New(),
			scroll: scroll.NewCoordinator(opts.Scroll),
		},
	}
}

// Run processes the mailbox until ctx is done. The open conversation is
// unsubscribed on the way out; the shared connection is left alone.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	remove := c.channel.OnConnected(func(reconnected bool) {
		go c.post(func() { c.onConnected(reconnected) })
	})
	defer func() {
		remove()
		c.leave()
		close(c.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.mailbox:
			fn()
		}
	}
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.mailbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) bool {
	done := make(chan struct{})
	if !c.post(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Changes signals that a new Snapshot is available. Signals coalesce.
func (c *Controller) Changes() <-chan struct{} { return c.changes }

func (c *Controller) Open(conversationID int64) {
	c.post(func() { c.open(conversationID) })
}

func (c *Controller) Close() {
	c.post(func() {
		c.leave()
		c.notify()
	})
}

func (c *Controller) SetDraft(text string) {
	c.post(func() { c.st.draft = text })
}

func (c *Controller) Send() {
	c.post(c.send)
}

func (c *Controller) JumpToLatest() {
	c.post(func() {
		if c.st.phase == PhaseIdle {
			return
		}
		c.st.scroll.FollowLatest()
		c.opts.Metrics.Unread(0)
		c.notify()
	})
}

func (c *Controller) Retry() {
	c.post(c.retry)
}

func (c *Controller) AfterRender(vp scroll.ViewportMetrics) {
	c.call(func() {
		c.st.scroll.AfterRender(vp)
		c.maybeAutoFill(vp)
	})
}

func (c *Controller) Scrolled(vp scroll.ViewportMetrics) {
	c.call(func() {
		before := c.st.scroll.Unread()
		if c.st.scroll.Scrolled(vp, c.canLoadMore()) {
			c.startBackfill(false)
		}
		if c.st.scroll.Unread() != before {
			c.opts.Metrics.Unread(c.st.scroll.Unread())
		}
		c.notify()
	})
}

func (c *Controller) Snapshot() Snapshot {
	var snap Snapshot
	c.call(func() { snap = c.st.snapshot() })
	return snap
}

// op captures what an async operation needs to know about the
// conversation it was issued for.
type op struct {
	token          uint64
	conversationID int64
	viewerID       int64
	ctx            context.Context
}

func (c *Controller) currentOp() op {
	return op{
		token:          c.st.token,
		conversationID: c.st.conversationID,
		viewerID:       c.st.viewerID,
		ctx:            log.WithConversation(c.ctx, c.st.conversationID, c.st.viewerID),
	}
}

// current reports whether o still belongs to the displayed conversation.
// Stale completions are dropped without touching state.
func (c *Controller) current(o op, what string) bool {
	if o.token == c.st.token {
		return true
	}
	c.opts.Metrics.StaleResponse()
	l := log.Ctx(o.ctx)
	l.Debug().
		Uint64(log.FieldLoadToken, o.token).
		Uint64("current_token", c.st.token).
		Msgf("discarding stale %s", what)
	return false
}

func (c *Controller) open(conversationID int64) {
	c.leave()

	c.st.token++
	c.st.reset()
	c.st.phase = PhaseLoading
	c.st.conversationID = conversationID
	c.st.viewerID = c.viewer.ViewerID()
	c.st.markLimiter = rate.NewLimiter(rate.Every(c.opts.MarkReadInterval), 1)

	o := c.currentOp()
	l := log.Ctx(o.ctx)
	l.Info().Uint64(log.FieldLoadToken, o.token).Msg("opening conversation")

	c.fetchMetadata(o)
	c.loadFirstPage(o)
	c.connectAndSubscribe(o)
	c.markRead()
	c.notify()
}

// leave unsubscribes from the open conversation and invalidates every
// operation still in flight for it.
func (c *Controller) leave() {
	if c.st.phase == PhaseIdle {
		return
	}
	c.channel.UnsubscribeConversation(c.st.conversationID)
	c.st.token++
	c.st.reset()
	c.st.phase = PhaseIdle
	c.opts.Metrics.Unread(0)
}

func (c *Controller) send() {
	content := strings.TrimSpace(c.st.draft)
	if content == "" || c.st.sending || c.st.phase == PhaseIdle {
		return
	}
	c.st.sending = true
	c.st.sendErr = nil
	c.notify()

	o := c.currentOp()
	req := domain.SendMessageRequest{
		Content:        content,
		Type:           domain.MessageTypeText,
		ConversationID: o.conversationID,
	}
	go func() {
		sent, err := c.history.SendMessage(o.ctx, o.viewerID, req)
		c.opts.Metrics.Send(err)
		c.post(func() { c.sendSettled(o, content, sent, err) })
	}()
}

func (c *Controller) sendSettled(o op, content string, sent *domain.Message, err error) {
	if !c.current(o, "send acknowledgment") {
		return
	}
	c.st.sending = false

	if err != nil {
		l := log.Ctx(o.ctx)
		l.Warn().Err(err).Msg("send failed")
		c.st.sendErr = err
		c.notify()
		return
	}

	// Keep anything typed while the send was in flight.
	if strings.TrimSpace(c.st.draft) == content {
		c.st.draft = ""
	}
	c.st.scroll.FollowLatest()
	if sent != nil && c.opts.AppendAcknowledged && sent.ConversationID == o.conversationID {
		c.appendMessage(*sent)
	}
	c.notify()
}

// appendMessage adds msg at the tail through id dedup and applies the
// scroll policy. It reports whether the store changed.
func (c *Controller) appendMessage(msg domain.Message) bool {
	if !c.st.store.Append(msg) {
		return false
	}
	own := msg.SenderID == c.st.viewerID
	c.st.scroll.Appended(own)
	c.opts.Metrics.Unread(c.st.scroll.Unread())
	if !own {
		c.markRead()
	}
	return true
}

// onRealtime handles a pushed message. It checks the conversation it is
// for against the current state rather than any value captured when the
// subscription was made.
func (c *Controller) onRealtime(msg domain.Message) {
	if c.st.phase == PhaseIdle || msg.ConversationID != c.st.conversationID {
		return
	}
	added := c.appendMessage(msg)
	c.opts.Metrics.RealtimeMessage(added)
	if added {
		c.notify()
	}
}

func (c *Controller) retry() {
	if c.st.phase == PhaseIdle {
		return
	}
	o := c.currentOp()

	if c.st.metaErr != nil {
		c.fetchMetadata(o)
	}
	if c.st.pageErr != nil && !c.st.loading {
		c.loadFirstPage(o)
	}
	if c.st.backfillErr != nil {
		c.st.backfillErr = nil
		c.startBackfill(false)
	}
	if c.st.realtimeErr != nil {
		c.connectAndSubscribe(o)
	}
	c.notify()
}

// markRead fires a throttled, fire-and-forget mark-read for the open
// conversation. Calls inside the interval coalesce into one trailing call.
func (c *Controller) markRead() {
	if c.st.markPending || c.st.markLimiter == nil {
		return
	}
	c.st.markPending = true
	token := c.st.token

	delay := c.st.markLimiter.Reserve().Delay()
	time.AfterFunc(delay, func() {
		c.post(func() {
			if token != c.st.token {
				return
			}
			c.st.markPending = false
			o := c.currentOp()
			go func() {
				if err := c.history.MarkRead(o.ctx, o.conversationID, o.viewerID); err != nil {
					l := log.Ctx(o.ctx)
					l.Debug().Err(err).Msg("mark read failed")
				}
			}()
		})
	})
}
