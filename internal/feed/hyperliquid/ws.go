package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultWSURL is the public Hyperliquid WebSocket endpoint.
	DefaultWSURL = "wss://api.hyperliquid.xyz/ws"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// MidsHandler receives each allMids push: current mid price string per coin.
type MidsHandler func(mids map[string]string)

// WSFeed subscribes to the venue's allMids stream and invokes the handler on
// every push. It reconnects with exponential backoff until ctx is cancelled.
type WSFeed struct {
	wsURL   string
	handler MidsHandler
	logger  *slog.Logger
}

// NewWSFeed creates a feed. wsURL falls back to the public endpoint.
func NewWSFeed(wsURL string, handler MidsHandler, logger *slog.Logger) *WSFeed {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &WSFeed{
		wsURL:   wsURL,
		handler: handler,
		logger:  logger.With(slog.String("component", "hyperliquid-ws")),
	}
}

// Run connects, subscribes and dispatches until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// subscribeCommand is the subscription envelope the venue expects.
type subscribeCommand struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
}

// wsMessage is the push envelope; data carries the channel payload.
type wsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid: ws connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{Method: "subscribe"}
	cmd.Subscription.Type = "allMids"

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("hyperliquid: ws subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "ws subscribed", slog.String("stream", "allMids"))

	// Close the connection when ctx ends so ReadMessage unblocks; ping on a
	// schedule so the venue keeps the stream open.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("hyperliquid: ws read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Channel != "allMids" || len(msg.Data.Mids) == 0 {
			continue
		}
		f.handler(msg.Data.Mids)
	}
}
