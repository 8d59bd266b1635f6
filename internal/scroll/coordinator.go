package scroll

const (
	DefaultNearBottomThreshold = 200
	DefaultNearTopThreshold    = 100
	DefaultScrollableEpsilon   = 2
)

// ViewportMetrics is the scroll container the coordinator measures and
// moves. Units are whatever the rendering surface uses (pixels, lines).
type ViewportMetrics interface {
	ScrollHeight() int
	ScrollTop() int
	ClientHeight() int
	SetScrollTop(top int)
}

// SmoothScroller is implemented by viewports that can animate a scroll to
// the bottom. Viewports without it are moved instantly.
type SmoothScroller interface {
	SmoothScrollToBottom()
}

// Intent is the viewport move scheduled for the next render.
type Intent int

const (
	IntentNone Intent = iota
	IntentJump
	IntentSmoothFollow
)

func (i Intent) String() string {
	switch i {
	case IntentJump:
		return "jump"
	case IntentSmoothFollow:
		return "smooth-follow"
	default:
		return "none"
	}
}

type Config struct {
	NearBottomThreshold int `mapstructure:"near_bottom_threshold"`
	NearTopThreshold    int `mapstructure:"near_top_threshold"`
	ScrollableEpsilon   int `mapstructure:"scrollable_epsilon"`
}

func DefaultConfig() Config {
	return Config{
		NearBottomThreshold: DefaultNearBottomThreshold,
		NearTopThreshold:    DefaultNearTopThreshold,
		ScrollableEpsilon:   DefaultScrollableEpsilon,
	}
}

type extent struct {
	height int
	top    int
	client int
}

// Coordinator turns message store mutations into viewport moves without
// fighting the user's own scrolling. Mutation hooks only record intent; the
// viewport is touched exclusively from AfterRender and Scrolled, which the
// rendering side calls once its layout reflects the current messages.
//
// It is not safe for concurrent use.
type Coordinator struct {
	cfg Config

	nearBottom bool
	intent     Intent
	unread     int

	// last is the extent seen at the most recent render or scroll, i.e. the
	// layout before any mutation not yet rendered.
	last    extent
	hasLast bool

	anchor   *extent
	topArmed bool
	// rearm is set by a prepend so the near-top trigger can fire again even
	// if the anchored offset is still inside the band.
	rearm bool
}

func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{cfg: cfg}
	c.Reset()
	return c
}

// Reset forgets everything about the previous conversation.
func (c *Coordinator) Reset() {
	c.nearBottom = true
	c.intent = IntentNone
	c.unread = 0
	c.hasLast = false
	c.anchor = nil
	c.topArmed = true
	c.rearm = false
}

func (c *Coordinator) NearBottom() bool { return c.nearBottom }
func (c *Coordinator) Intent() Intent   { return c.intent }
func (c *Coordinator) Unread() int      { return c.unread }

// ShowJumpToLatest reports whether the "jump to latest" affordance should be
// visible.
func (c *Coordinator) ShowJumpToLatest() bool {
	return !c.nearBottom || c.unread > 0
}

// InitialLoaded schedules a hard jump to the bottom after the first page
// renders.
func (c *Coordinator) InitialLoaded() {
	c.anchor = nil
	c.intent = IntentJump
	c.unread = 0
}

// Prepended records that an older page was inserted at the head. An
// automatic backfill jumps to the bottom again since the user has not
// started reading; a manual one keeps the visible messages where they are.
func (c *Coordinator) Prepended(auto bool) {
	c.rearm = true
	if auto {
		c.anchor = nil
		c.intent = IntentJump
		c.unread = 0
		return
	}
	if c.anchor == nil && c.hasLast {
		a := c.last
		c.anchor = &a
	}
}

// Appended records a realtime or acknowledged message at the tail.
func (c *Coordinator) Appended(own bool) {
	if own || c.nearBottom {
		if c.intent != IntentJump {
			c.intent = IntentSmoothFollow
		}
		c.unread = 0
		return
	}
	c.unread++
}

// FollowLatest schedules a smooth scroll to the bottom, e.g. after a send or
// when the user asks to jump to the latest message.
func (c *Coordinator) FollowLatest() {
	if c.intent != IntentJump {
		c.intent = IntentSmoothFollow
	}
	c.unread = 0
}

// AfterRender applies the pending anchor and intent to vp.
func (c *Coordinator) AfterRender(vp ViewportMetrics) {
	if c.anchor != nil {
		delta := vp.ScrollHeight() - c.anchor.height
		vp.SetScrollTop(c.anchor.top + delta)
		c.anchor = nil
	}

	switch c.intent {
	case IntentJump:
		vp.SetScrollTop(bottom(vp))
	case IntentSmoothFollow:
		if s, ok := vp.(SmoothScroller); ok {
			s.SmoothScrollToBottom()
		} else {
			vp.SetScrollTop(bottom(vp))
		}
	}
	followed := c.intent != IntentNone
	c.intent = IntentNone

	c.observe(vp)
	if c.rearm || c.last.top >= c.cfg.NearTopThreshold {
		c.topArmed = true
		c.rearm = false
	}
	if followed {
		// An animated scroll has not reached the bottom yet.
		c.nearBottom = true
		c.unread = 0
	}
}

// Scrolled handles a user scroll. canLoadMore tells whether older history
// exists and no backfill is in flight. It reports whether a backfill should
// start; that happens once per entry into the near-top band.
func (c *Coordinator) Scrolled(vp ViewportMetrics, canLoadMore bool) bool {
	c.observe(vp)

	if c.last.top >= c.cfg.NearTopThreshold {
		c.topArmed = true
		return false
	}
	if c.topArmed && canLoadMore {
		c.topArmed = false
		return true
	}
	return false
}

// CanScroll reports whether the content overflows the viewport.
func (c *Coordinator) CanScroll(vp ViewportMetrics) bool {
	return vp.ScrollHeight() > vp.ClientHeight()+c.cfg.ScrollableEpsilon
}

// IsNearBottom classifies a distance from the bottom edge.
func (c *Coordinator) IsNearBottom(distance int) bool {
	return distance <= c.cfg.NearBottomThreshold
}

func (c *Coordinator) observe(vp ViewportMetrics) {
	c.last = extent{height: vp.ScrollHeight(), top: vp.ScrollTop(), client: vp.ClientHeight()}
	c.hasLast = true

	c.nearBottom = c.IsNearBottom(c.last.height - c.last.top - c.last.client)
	if c.nearBottom {
		c.unread = 0
	}
}

func bottom(vp ViewportMetrics) int {
	return max(0, vp.ScrollHeight()-vp.ClientHeight())
}
