package inbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/internal/history"
	"github.com/weiawesome/wes-io-live/chat-client/internal/realtime"
	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

// OwnSenderLabel replaces the sender name of the viewer's own last message.
const OwnSenderLabel = "You"

// Viewer supplies the id of the signed-in user.
type Viewer interface {
	ViewerID() int64
}

// Inbox is the viewer's conversation list, kept current by ROOM_UPDATED
// pushes on the per-user topic. It is safe for concurrent use.
type Inbox struct {
	history history.Service
	channel realtime.Channel
	viewer  Viewer

	mu            sync.RWMutex
	conversations []domain.Conversation
	viewing       int64
	subscribedFor int64
	started       bool
	loading       bool
	err           error

	ctx     context.Context
	remove  func()
	changes chan struct{}
}

func New(hist history.Service, channel realtime.Channel, viewer Viewer) *Inbox {
	return &Inbox{
		history: hist,
		channel: channel,
		viewer:  viewer,
		ctx:     context.Background(),
		changes: make(chan struct{}, 1),
	}
}

// Start loads the list and subscribes to updates. A realtime failure is
// logged and leaves the list usable; the subscription follows once the
// channel connects on its own.
func (i *Inbox) Start(ctx context.Context) error {
	i.mu.Lock()
	i.ctx = ctx
	i.mu.Unlock()

	i.remove = i.channel.OnConnected(func(reconnected bool) {
		go i.onConnected(reconnected)
	})

	loadErr := i.Load(ctx)

	err := i.channel.Connect(ctx)
	i.mu.Lock()
	i.started = true
	i.mu.Unlock()
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("conversation list updates unavailable")
		// A background retry may have landed before started was set.
		if i.channel.State() == realtime.StateConnected && !i.subscribed() {
			i.resync()
		}
		return loadErr
	}
	if err := i.subscribe(); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to subscribe to conversation list updates")
	}
	return loadErr
}

// onConnected restores live updates after a reconnect, and subscribes late
// when the first connection only came up after Start gave up on it.
func (i *Inbox) onConnected(reconnected bool) {
	i.mu.RLock()
	started := i.started
	i.mu.RUnlock()

	if reconnected || (started && !i.subscribed()) {
		i.resync()
	}
}

func (i *Inbox) subscribed() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.subscribedFor != 0
}

// Stop unsubscribes from the per-user topic.
func (i *Inbox) Stop() {
	if i.remove != nil {
		i.remove()
	}
	i.mu.Lock()
	userID := i.subscribedFor
	i.subscribedFor = 0
	i.mu.Unlock()
	if userID != 0 {
		i.channel.UnsubscribeUserConversations(userID)
	}
}

// Load replaces the list with the server's. On failure the list is emptied
// and the error kept for display.
func (i *Inbox) Load(ctx context.Context) error {
	i.mu.Lock()
	i.loading = true
	i.err = nil
	i.mu.Unlock()
	i.notify()

	convs, err := i.history.ListConversations(ctx, i.viewer.ViewerID())

	i.mu.Lock()
	i.loading = false
	if err != nil {
		i.conversations = nil
		i.err = fmt.Errorf("failed to load conversations: %w", err)
	} else {
		sortByActivity(convs)
		i.conversations = convs
	}
	i.mu.Unlock()
	i.notify()

	return err
}

// Select records conv as the one being viewed, zeroes its unread count and
// marks it read on the server without waiting.
func (i *Inbox) Select(conversationID int64) {
	i.mu.Lock()
	i.viewing = conversationID
	if idx := i.indexOf(conversationID); idx >= 0 {
		i.conversations[idx].UnreadCount = 0
	}
	ctx := i.ctx
	i.mu.Unlock()
	i.notify()

	i.markRead(ctx, conversationID)
}

// Deselect clears the viewed conversation.
func (i *Inbox) Deselect() {
	i.mu.Lock()
	i.viewing = 0
	i.mu.Unlock()
}

func (i *Inbox) Viewing() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.viewing
}

// Conversations returns a copy of the list, most recent activity first.
func (i *Inbox) Conversations() []domain.Conversation {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return cloneAll(i.conversations)
}

// Filter returns the conversations whose display name contains query,
// ignoring case. An empty query returns everything.
func (i *Inbox) Filter(query string) []domain.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	viewerID := i.viewer.ViewerID()

	all := i.Conversations()
	if q == "" {
		return all
	}
	out := all[:0]
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.DisplayName(viewerID)), q) {
			out = append(out, c)
		}
	}
	return out
}

func (i *Inbox) Loading() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loading
}

func (i *Inbox) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// Changes signals that the list changed. Signals coalesce.
func (i *Inbox) Changes() <-chan struct{} { return i.changes }

func (i *Inbox) notify() {
	select {
	case i.changes <- struct{}{}:
	default:
	}
}

func (i *Inbox) subscribe() error {
	userID := i.viewer.ViewerID()
	if err := i.channel.SubscribeUserConversations(userID, i.apply); err != nil {
		return err
	}
	i.mu.Lock()
	i.subscribedFor = userID
	i.mu.Unlock()
	return nil
}

// resync runs after a (re)connect: the subscription is missing and updates
// may have been missed, so both are restored.
func (i *Inbox) resync() {
	i.mu.RLock()
	ctx := i.ctx
	i.mu.RUnlock()

	l := log.Ctx(ctx)
	if err := i.subscribe(); err != nil {
		l.Warn().Err(err).Msg("failed to resubscribe to conversation list updates")
	}
	if err := i.Load(ctx); err != nil {
		l.Warn().Err(err).Msg("failed to reload conversations after reconnect")
	}
}

// apply folds one ROOM_UPDATED event into the list.
func (i *Inbox) apply(evt domain.RoomUpdatedEvent) {
	viewerID := i.viewer.ViewerID()
	own := evt.LastMessage.SenderID == viewerID

	i.mu.Lock()
	viewing := i.viewing == evt.ConversationID
	idx := i.indexOf(evt.ConversationID)
	if idx < 0 {
		ctx := i.ctx
		i.mu.Unlock()
		l := log.Ctx(ctx)
		l.Debug().Int64(log.FieldConversationID, evt.ConversationID).Msg("update for unknown conversation")
		return
	}

	conv := &i.conversations[idx]
	last := evt.LastMessage
	switch {
	case own:
		last.SenderName = OwnSenderLabel
	case conv.Type != domain.ConversationGroup:
		last.SenderName = ""
	}
	conv.LastMessage = &last

	if !own {
		if viewing {
			conv.UnreadCount = 0
		} else {
			conv.UnreadCount++
		}
	}
	sortByActivity(i.conversations)
	ctx := i.ctx
	i.mu.Unlock()
	i.notify()

	// Keep the server's counter at zero for the open conversation.
	if viewing && !own {
		i.markRead(ctx, evt.ConversationID)
	}
}

func (i *Inbox) markRead(ctx context.Context, conversationID int64) {
	viewerID := i.viewer.ViewerID()
	go func() {
		if err := i.history.MarkRead(ctx, conversationID, viewerID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Int64(log.FieldConversationID, conversationID).Msg("failed to mark conversation read")
		}
	}()
}

// indexOf must be called with mu held.
func (i *Inbox) indexOf(conversationID int64) int {
	for idx := range i.conversations {
		if i.conversations[idx].ID == conversationID {
			return idx
		}
	}
	return -1
}

func sortByActivity(convs []domain.Conversation) {
	sort.SliceStable(convs, func(a, b int) bool {
		return convs[a].LastActivity().After(convs[b].LastActivity())
	})
}

func cloneAll(convs []domain.Conversation) []domain.Conversation {
	out := make([]domain.Conversation, len(convs))
	for idx, c := range convs {
		if c.LastMessage != nil {
			last := *c.LastMessage
			c.LastMessage = &last
		}
		c.Members = append([]domain.Member(nil), c.Members...)
		out[idx] = c
	}
	return out
}

// FormatAge renders the time since t the way the list shows it:
// "now", "5m", "2h", "3d", then a short date.
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	default:
		return t.Format("Jan 2")
	}
}
