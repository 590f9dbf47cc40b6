package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fileshare/fileshare/pkg/types"
)

// handshakeTimeout bounds the WebSocket upgrade.
const handshakeTimeout = 10 * time.Second

// WatchOptions tunes Watch.
type WatchOptions struct {
	// PollInterval, when positive, sends a message at that interval; the
	// server answers each one with the current expiry.
	PollInterval time.Duration
}

// Closed describes how the server ended a watch.
type Closed struct {
	Code   int
	Reason string
}

// Watch observes key until the server closes the stream or ctx ends. fn is
// called for every expiry message, the first one right after subscribing.
// A 404 on the upgrade is returned as types.ErrNotFound.
func (c *Client) Watch(ctx context.Context, key string, opts WatchOptions, fn func(types.Message)) (Closed, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL(key), nil)
	if err != nil {
		if resp != nil {
			apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(HeaderRequestID)}
			return Closed{}, fmt.Errorf("watch %s: %w", key, apiErr)
		}
		return Closed{}, fmt.Errorf("watch %s: %w", key, err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		var tick <-chan time.Time
		if opts.PollInterval > 0 {
			t := time.NewTicker(opts.PollInterval)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck
				conn.Close()
				return
			case <-tick:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					slog.Debug("client: watch poll failed", "key", key, "err", err)
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Closed{}, ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return Closed{Code: ce.Code, Reason: ce.Text}, nil
			}
			return Closed{}, fmt.Errorf("watch %s: %w", key, err)
		}
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("client: undecodable watch message", "key", key, "err", err)
			continue
		}
		if msg.Event != types.EventExpiry {
			continue
		}
		fn(msg)
	}
}

// Expired reports whether the server closed the stream because the entity
// expired or was deleted.
func (c Closed) Expired() bool {
	return c.Code == types.CloseExpired
}
