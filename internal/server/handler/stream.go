package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	maxClientMessage    = 512
)

// StreamMessage is the frame pushed to stream clients for each new entry.
type StreamMessage struct {
	Type  string             `json:"type"`
	Entry *eventledger.Entry `json:"entry,omitempty"`
}

const streamMessageEntry = "entry"

// The stream is a read-only view of the same chain GET /ledger/chain serves,
// so connections are accepted from any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Stream handles GET /ledger/stream. It upgrades to a WebSocket and pushes
// every entry appended after the connection opened, in order. Messages from
// the client are discarded.
func (h *LedgerHandler) Stream(c *gin.Context) {
	wc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ledger stream upgrade failed", zap.Error(err))
		return
	}

	sub := h.ledger.Subscribe()
	defer sub.Close()

	log := h.logger.With(zap.String("subscription", sub.ID().String()))
	log.Debug("ledger stream opened", zap.String("remote", c.ClientIP()))

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		h.discardReads(wc)
	}()

	h.writeLoop(wc, sub, gone, log)
}

// discardReads consumes client frames until the connection fails, which is
// how a disconnect or a missed pong is detected.
func (h *LedgerHandler) discardReads(wc *websocket.Conn) {
	pongWait := 2 * h.pingInterval
	wc.SetReadLimit(maxClientMessage)
	_ = wc.SetReadDeadline(time.Now().Add(pongWait))
	wc.SetPongHandler(func(string) error {
		return wc.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := wc.NextReader(); err != nil {
			return
		}
	}
}

func (h *LedgerHandler) writeLoop(wc *websocket.Conn, sub *eventledger.Subscription, gone <-chan struct{}, log *zap.Logger) {
	defer wc.Close()

	t := time.NewTicker(h.pingInterval)
	defer t.Stop()

	for {
		select {
		case entry, ok := <-sub.C():
			if !ok {
				code, reason := websocket.CloseGoingAway, "ledger shutting down"
				if sub.Dropped() {
					code, reason = websocket.CloseTryAgainLater, "subscriber fell behind"
				}
				log.Debug("ledger stream closed by server", zap.String("reason", reason))
				_ = wc.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason),
					time.Now().Add(writeTimeout))
				return
			}
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteJSON(StreamMessage{Type: streamMessageEntry, Entry: &entry}); err != nil {
				log.Debug("ledger stream write failed", zap.Error(err))
				return
			}
			recordStreamMessage("websocket")
		case <-t.C:
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("ledger stream client disconnected")
			return
		}
	}
}

// Events handles GET /ledger/events, a Server-Sent Events alternative to
// Stream. Each new entry is sent as an "entry" event; a "ping" event is sent
// on the keepalive interval.
func (h *LedgerHandler) Events(c *gin.Context) {
	sub := h.ledger.Subscribe()
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	t := time.NewTicker(h.pingInterval)
	defer t.Stop()

	done := c.Request.Context().Done()
	c.Stream(func(io.Writer) bool {
		select {
		case entry, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(streamMessageEntry, entry)
			recordStreamMessage("sse")
			return true
		case now := <-t.C:
			c.SSEvent("ping", now.UTC().Format(time.RFC3339))
			return true
		case <-done:
			return false
		}
	})
}
