package chatwindow

import (
	"golang.org/x/time/rate"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/internal/scroll"
	"github.com/weiawesome/wes-io-live/chat-client/internal/store"
)

// User-facing failure messages.
const (
	msgMetadataFailed = "Could not load the conversation"
	msgPageFailed     = "Could not load messages"
	msgBackfillFailed = "Could not load older messages"
	msgSendFailed     = "Could not send the message"
	msgRealtimeFailed = "Live updates are unavailable"
)

type state struct {
	phase          Phase
	token          uint64
	conversationID int64
	viewerID       int64

	conversation *domain.Conversation
	store        *store.MessageStore
	scroll       *scroll.Coordinator

	cursor          string
	hasMore         bool
	loading         bool
	pageLoaded      bool
	backfilling     bool
	autoFillPending bool
	sending         bool
	subscribed      bool
	draft           string

	metaErr     error
	pageErr     error
	backfillErr error
	sendErr     error
	realtimeErr error

	markLimiter *rate.Limiter
	markPending bool
}

// reset clears every per-conversation field. token and phase are managed
// by the caller.
func (s *state) reset() {
	s.conversationID = 0
	s.viewerID = 0
	s.conversation = nil
	s.store.Reset()
	s.scroll.Reset()
	s.cursor = ""
	s.hasMore = false
	s.loading = false
	s.pageLoaded = false
	s.backfilling = false
	s.autoFillPending = false
	s.sending = false
	s.subscribed = false
	s.draft = ""
	s.metaErr = nil
	s.pageErr = nil
	s.backfillErr = nil
	s.sendErr = nil
	s.realtimeErr = nil
	s.markLimiter = nil
	s.markPending = false
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		Phase:              s.phase,
		LoadToken:          s.token,
		ConversationID:     s.conversationID,
		ViewerID:           s.viewerID,
		Messages:           s.store.Messages(),
		HasMore:            s.hasMore,
		Loading:            s.loading,
		LoadingMore:        s.backfilling,
		Sending:            s.sending,
		Draft:              s.draft,
		MetadataErr:        s.metaErr,
		PageErr:            s.pageErr,
		BackfillErr:        s.backfillErr,
		SendErr:            s.sendErr,
		RealtimeErr:        s.realtimeErr,
		LiveConnected:      s.subscribed,
		Intent:             s.scroll.Intent(),
		NearBottom:         s.scroll.NearBottom(),
		PendingNewMessages: s.scroll.Unread(),
		ShowJumpToLatest:   s.scroll.ShowJumpToLatest(),
	}

	if s.conversation != nil {
		conv := *s.conversation
		conv.Members = append([]domain.Member(nil), s.conversation.Members...)
		snap.Conversation = &conv
		snap.DisplayName = conv.DisplayName(s.viewerID)
		snap.DisplayAvatar = conv.DisplayAvatar(s.viewerID)
	}

	switch {
	case s.sendErr != nil:
		snap.Error = msgSendFailed
	case s.pageErr != nil:
		snap.Error = msgPageFailed
	case s.metaErr != nil:
		snap.Error = msgMetadataFailed
	case s.backfillErr != nil:
		snap.Error = msgBackfillFailed
	case s.realtimeErr != nil:
		snap.Error = msgRealtimeFailed
	}
	return snap
}
