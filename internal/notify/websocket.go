package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/mmynk/eventsync/internal/wire"
)

// WebSocketFeed subscribes to a Hub over a websocket.
type WebSocketFeed struct {
	// URL is the hub endpoint, e.g. ws://localhost:8080/ws.
	URL string

	// Token is sent as a bearer token when set.
	Token string

	Dialer *websocket.Dialer
}

var _ Feed = (*WebSocketFeed)(nil)

// Subscribe implements Feed.
func (f *WebSocketFeed) Subscribe(ctx context.Context, eventID string) (<-chan *wire.Notification, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed url: %w", err)
	}
	q := u.Query()
	q.Set(EventIDParam, eventID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if f.Token != "" {
		header.Set("Authorization", "Bearer "+f.Token)
	}
	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial feed: %w", err)
	}

	out := make(chan *wire.Notification, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					slog.Warn("Feed connection lost", "event_id", eventID, "error", err)
				}
				return
			}
			n, err := wire.DecodeNotification(data)
			if err != nil {
				slog.Warn("Dropping undecodable notification", "event_id", eventID, "error", err)
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
