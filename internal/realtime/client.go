package realtime

import (
	"sync"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client 一條已認證的 WebSocket 連線
type Client struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func newClient(userID string, conn *websocket.Conn, buffer int, limiter *rate.Limiter) *Client {
	return &Client{
		id:      uuid.New().String(),
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// UserID 連線所屬用戶
func (c *Client) UserID() string { return c.userID }

// enqueue 非阻塞放入送出佇列；佇列已滿時丟棄此 frame
func (c *Client) enqueue(frame []byte, eventType string) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		metrics.FramesDropped.WithLabelValues(eventType).Inc()
		return false
	}
}

func (c *Client) enqueueEvent(event chat.Event) bool {
	frame, err := encodeEvent(event)
	if err != nil {
		return false
	}
	return c.enqueue(frame, event.Type)
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump 唯一寫入 conn 的 goroutine
func (c *Client) writePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
