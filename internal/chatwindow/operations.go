package chatwindow

import (
	"time"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/internal/scroll"
	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

// Page fetch kinds, used as a metric label.
const (
	kindInitial      = "initial"
	kindBackfill     = "backfill"
	kindAutoBackfill = "auto_backfill"
	kindCatchUp      = "catch_up"
)

func (c *Controller) fetchMetadata(o op) {
	c.st.metaErr = nil
	go func() {
		conv, err := c.history.GetConversation(o.ctx, o.conversationID, o.viewerID)
		c.post(func() {
			if !c.current(o, "conversation metadata") {
				return
			}
			if err != nil {
				l := log.Ctx(o.ctx)
				l.Warn().Err(err).Msg("failed to load conversation")
				c.st.metaErr = err
			} else {
				c.st.conversation = conv
			}
			c.notify()
		})
	}()
}

func (c *Controller) loadFirstPage(o op) {
	c.st.loading = true
	c.st.pageErr = nil

	go func() {
		started := time.Now()
		page, err := c.history.FetchPage(o.ctx, o.conversationID, o.viewerID, "", c.opts.PageSize)
		c.opts.Metrics.ObservePageFetch(kindInitial, started, err)
		c.post(func() { c.firstPageSettled(o, page, err) })
	}()
}

func (c *Controller) firstPageSettled(o op, page *domain.Page, err error) {
	if !c.current(o, "first page") {
		return
	}
	c.st.loading = false
	c.st.phase = PhaseReady

	if err != nil {
		// An errored view, never an empty "no messages" one.
		l := log.Ctx(o.ctx)
		l.Warn().Err(err).Msg("failed to load messages")
		c.st.pageErr = err
		c.notify()
		return
	}

	// Pushes that raced the page stay after it.
	early := c.st.store.Messages()
	c.st.store.ReplaceAll(page.Messages)
	for _, m := range early {
		c.st.store.Append(m)
	}

	c.st.cursor = page.Cursor()
	c.st.hasMore = page.HasMore
	c.st.pageLoaded = true
	c.st.scroll.InitialLoaded()

	l := log.Ctx(o.ctx)
	l.Debug().
		Int("count", len(page.Messages)).
		Bool("has_more", page.HasMore).
		Str(log.FieldCursor, c.st.cursor).
		Msg("first page loaded")
	c.notify()
}

// canLoadMore reports whether an older page exists and can be requested now.
func (c *Controller) canLoadMore() bool {
	return c.st.phase == PhaseReady &&
		c.st.pageLoaded &&
		!c.st.loading &&
		!c.st.backfilling &&
		c.st.hasMore &&
		c.st.cursor != ""
}

// maybeAutoFill starts one backfill when the rendered content does not
// overflow the viewport yet. It never fires once history is exhausted.
func (c *Controller) maybeAutoFill(vp scroll.ViewportMetrics) {
	if !c.canLoadMore() || c.st.autoFillPending || c.st.backfillErr != nil {
		return
	}
	if c.st.scroll.CanScroll(vp) {
		return
	}
	c.st.autoFillPending = true
	c.startBackfill(true)
}

func (c *Controller) startBackfill(auto bool) {
	if !c.canLoadMore() {
		if auto {
			c.st.autoFillPending = false
		}
		return
	}
	c.st.backfilling = true
	c.st.backfillErr = nil

	o := c.currentOp()
	cursor := c.st.cursor
	kind := kindBackfill
	if auto {
		kind = kindAutoBackfill
	}

	go func() {
		started := time.Now()
		page, err := c.history.FetchPage(o.ctx, o.conversationID, o.viewerID, cursor, c.opts.PageSize)
		c.opts.Metrics.ObservePageFetch(kind, started, err)
		c.post(func() { c.backfillSettled(o, auto, page, err) })
	}()
	c.notify()
}

func (c *Controller) backfillSettled(o op, auto bool, page *domain.Page, err error) {
	if !c.current(o, "older page") {
		return
	}
	c.st.backfilling = false
	if auto {
		c.st.autoFillPending = false
	}

	if err != nil {
		// Messages and cursor stay as they were.
		l := log.Ctx(o.ctx)
		l.Warn().Err(err).Str(log.FieldCursor, c.st.cursor).Msg("failed to load older messages")
		c.st.backfillErr = err
		c.notify()
		return
	}

	inserted := c.st.store.Prepend(page.Messages)
	c.st.cursor = page.Cursor()
	c.st.hasMore = page.HasMore
	if inserted > 0 || auto {
		c.st.scroll.Prepended(auto)
	}
	c.notify()
}

func (c *Controller) connectAndSubscribe(o op) {
	c.st.realtimeErr = nil
	go func() {
		err := c.channel.Connect(o.ctx)
		c.post(func() {
			if !c.current(o, "realtime connect") {
				return
			}
			if err != nil {
				l := log.Ctx(o.ctx)
				l.Warn().Err(err).Msg("realtime unavailable")
				c.st.realtimeErr = err
				c.notify()
				return
			}
			c.subscribe(o)
		})
	}()
}

func (c *Controller) subscribe(o op) {
	err := c.channel.SubscribeConversation(o.conversationID, func(msg domain.Message) {
		c.post(func() { c.onRealtime(msg) })
	})
	if err != nil {
		l := log.Ctx(o.ctx)
		l.Warn().Err(err).Msg("failed to subscribe")
		c.st.realtimeErr = err
		c.st.subscribed = false
	} else {
		c.st.realtimeErr = nil
		c.st.subscribed = true
	}
	c.notify()
}

// onConnected restores the subscription after a reconnect, or after a
// background retry succeeded where this window's own connect had failed.
func (c *Controller) onConnected(reconnected bool) {
	if reconnected || (c.st.realtimeErr != nil && !c.st.subscribed) {
		c.onReconnected()
	}
}

// onReconnected re-subscribes after the shared connection came back and
// fetches the latest page to recover pushes missed while it was down.
func (c *Controller) onReconnected() {
	if c.st.phase == PhaseIdle {
		return
	}
	o := c.currentOp()
	c.subscribe(o)
	if !c.st.pageLoaded {
		return
	}

	go func() {
		started := time.Now()
		page, err := c.history.FetchPage(o.ctx, o.conversationID, o.viewerID, "", c.opts.PageSize)
		c.opts.Metrics.ObservePageFetch(kindCatchUp, started, err)
		c.post(func() { c.catchUpSettled(o, page, err) })
	}()
}

func (c *Controller) catchUpSettled(o op, page *domain.Page, err error) {
	if !c.current(o, "catch-up page") {
		return
	}
	if err != nil {
		l := log.Ctx(o.ctx)
		l.Warn().Err(err).Msg("failed to catch up after reconnect")
		return
	}

	tail, ok := c.st.store.Last()
	var added int
	for _, m := range page.Messages {
		if ok && m.CreatedAt.Before(tail.CreatedAt) {
			continue
		}
		if c.appendMessage(m) {
			added++
		}
	}
	if added > 0 {
		l := log.Ctx(o.ctx)
		l.Info().Int("count", added).Msg("recovered messages missed while disconnected")
		c.notify()
	}
}
