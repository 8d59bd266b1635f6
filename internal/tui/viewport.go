package tui

import (
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/weiawesome/wes-io-live/chat-client/internal/scroll"
)

// lines adapts a bubbles viewport to the scroll coordinator. The unit is
// one rendered line.
type lines struct {
	vp *viewport.Model
}

var (
	_ scroll.ViewportMetrics = lines{}
	_ scroll.SmoothScroller  = lines{}
)

func (l lines) ScrollHeight() int    { return l.vp.TotalLineCount() }
func (l lines) ScrollTop() int       { return l.vp.YOffset }
func (l lines) ClientHeight() int    { return l.vp.Height }
func (l lines) SetScrollTop(top int) { l.vp.SetYOffset(top) }

// A terminal cannot animate, so following is a jump.
func (l lines) SmoothScrollToBottom() { l.vp.GotoBottom() }
