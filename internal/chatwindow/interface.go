package chatwindow

import (
	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/internal/scroll"
)

// Viewer supplies the id of the signed-in user. It is read again on every
// conversation switch.
type Viewer interface {
	ViewerID() int64
}

// Phase is the main state of the window.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "idle"
	}
}

// Snapshot is a consistent copy of the window state for rendering.
type Snapshot struct {
	Phase          Phase
	LoadToken      uint64
	ConversationID int64
	ViewerID       int64

	Conversation  *domain.Conversation
	DisplayName   string
	DisplayAvatar string

	Messages    []domain.Message
	HasMore     bool
	Loading     bool
	LoadingMore bool
	Sending     bool
	Draft       string

	// Error is the user-facing message of the most relevant failure.
	Error         string
	MetadataErr   error
	PageErr       error
	BackfillErr   error
	SendErr       error
	RealtimeErr   error
	LiveConnected bool

	Intent             scroll.Intent
	NearBottom         bool
	PendingNewMessages int
	ShowJumpToLatest   bool
}

// Window is the chat window as seen by a front end.
type Window interface {
	Open(conversationID int64)
	Close()
	SetDraft(text string)
	Send()
	JumpToLatest()
	Retry()

	// AfterRender must be called once the viewport reflects the latest
	// Snapshot. Scrolled must be called on every user scroll.
	AfterRender(vp scroll.ViewportMetrics)
	Scrolled(vp scroll.ViewportMetrics)

	Snapshot() Snapshot
	Changes() <-chan struct{}
}
