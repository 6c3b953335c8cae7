package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrStreamClosed is returned by Tail when the server ends the stream,
	// e.g. on shutdown.
	ErrStreamClosed = errors.New("stream closed by server")

	// ErrSubscriberDropped is returned by Tail when the server disconnected
	// the stream because the client was not keeping up.
	ErrSubscriberDropped = errors.New("stream dropped: client fell behind")
)

type streamMessage struct {
	Type  string `json:"type"`
	Entry *Entry `json:"entry"`
}

// Tail streams every entry appended after the stream connects, calling fn
// for each in index order. It returns ctx.Err() when ctx is cancelled, the
// error from fn if fn fails, or an error describing why the stream ended.
//
//	err := c.Tail(ctx, func(e client.Entry) error {
//	    fmt.Println(e.Index, e.Feature)
//	    return nil
//	})
func (c *Client) Tail(ctx context.Context, fn func(Entry) error) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultTimeout,
		TLSClientConfig:  c.tlsConfig,
	}
	header := http.Header{}
	if c.bearerToken != "" {
		header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/v1/ledger/stream"
	wc, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial stream: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial stream: %w", err)
	}
	defer wc.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = wc.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			wc.Close()
		case <-stop:
		}
	}()

	for {
		var msg streamMessage
		if err := wc.ReadJSON(&msg); err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case websocket.IsCloseError(err, websocket.CloseTryAgainLater):
				return ErrSubscriberDropped
			case websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				return ErrStreamClosed
			default:
				return fmt.Errorf("read stream: %w", err)
			}
		}
		if msg.Type != "entry" || msg.Entry == nil {
			continue
		}
		if err := fn(*msg.Entry); err != nil {
			return err
		}
	}
}
