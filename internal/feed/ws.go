package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 10 * time.Second
	defaultReadTimeout  = 60 * time.Second
	handshakeTimeout    = 10 * time.Second
)

var (
	pingFrame = []byte("PING")
	pongFrame = []byte("PONG")
)

// WSTransport is a gorilla/websocket Transport with reconnect and backoff.
type WSTransport struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	UserAgent    string
	Backoff      func(retry int) time.Duration

	logger  *slog.Logger
	metrics *infra.Metrics
}

// NewWSTransport creates a transport with default timings.
func NewWSTransport(logger *slog.Logger, metrics *infra.Metrics) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSTransport{
		PingInterval: defaultPingInterval,
		ReadTimeout:  defaultReadTimeout,
		UserAgent:    infra.DefaultUserAgent,
		Backoff:      infra.CalculateBackoff,
		logger:       logger.With(slog.String("component", "ws")),
		metrics:      metrics,
	}
}

// Stream implements Transport.
func (t *WSTransport) Stream(ctx context.Context, sub Subscription, deliver func([]byte)) error {
	log := t.logger.With(slog.String("feed", string(sub.Category)))
	retry := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := t.connect(ctx, sub)
		if err != nil {
			delay := t.Backoff(retry)
			log.Warn("ws connection failed", slog.Any("error", err), slog.Int("retry", retry), slog.Duration("delay", delay))
			retry++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		retry = 0 // reset on successful connect
		log.Info("ws connected", slog.String("url", sub.URL))
		t.metrics.IncrementConnections()
		err = t.readLoop(ctx, conn, deliver)
		t.metrics.DecrementConnections()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("ws read loop ended", slog.Any("error", err))
	}
}

func (t *WSTransport) connect(ctx context.Context, sub Subscription) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := make(http.Header)
	if t.UserAgent != "" {
		header.Set("User-Agent", t.UserAgent)
	}

	conn, _, err := dialer.DialContext(ctx, sub.URL, header)
	if err != nil {
		return nil, domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	if sub.Message != nil {
		conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
		if err := conn.WriteJSON(sub.Message); err != nil {
			conn.Close()
			return nil, domain.NewNetworkError("subscribe", err)
		}
		conn.SetWriteDeadline(time.Time{})
	}
	return conn, nil
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn, deliver func([]byte)) error {
	var writeMu sync.Mutex
	defer conn.Close()

	// Unblock ReadMessage when the caller goes away.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	if t.PingInterval > 0 {
		go t.pingLoop(pingCtx, conn, &writeMu)
	}

	for {
		if t.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return domain.NewNetworkError("read", err)
		}
		if bytes.Equal(bytes.TrimSpace(msg), pongFrame) {
			continue
		}
		deliver(msg)
	}
}

func (t *WSTransport) pingLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(t.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
			err := conn.WriteMessage(websocket.TextMessage, pingFrame)
			writeMu.Unlock()
			if err != nil {
				t.logger.Warn("ws ping failed", slog.Any("error", err))
				conn.Close()
				return
			}
		}
	}
}
