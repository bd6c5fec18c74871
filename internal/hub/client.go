package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 单个入站事件的处理超时
const eventTimeout = 10 * time.Second

// Client 代表一个 WebSocket 连接。它实现 Transport，读循环驱动自己的 Session。
type Client struct {
	conn    *websocket.Conn
	remote  string
	send    chan []byte // 出站缓冲通道，写满时丢弃
	done    chan struct{}
	once    sync.Once
	session *Session
}

// NewClient 创建一个新的 Client 实例
func NewClient(h *Hub, chat ChatService, conn *websocket.Conn, identity Identity, limit RateLimit) *Client {
	c := &Client{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	c.session = NewSession(h, chat, c, identity, limit)
	return c
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// Send 非阻塞入队。连接已关闭或缓冲区已满时返回 false。
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.connFields().Warn("Client send buffer full, dropping event")
		return false
	}
}

// Close 通知写循环发送关闭帧并退出。可重复调用。
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// fields 只能在读循环中使用，会话字段由读循环写入
func (c *Client) fields() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"user_id": c.session.UserID(), "room_id": c.session.Room(), "remote": c.remote})
}

func (c *Client) connFields() *logrus.Entry {
	return logrus.WithField("remote", c.remote)
}

// ReadPump 从 WebSocket 读取事件并交给 Session 顺序处理。
// 它在自己的 goroutine 中运行，退出时离开房间。
func (c *Client) ReadPump() {
	defer func() {
		c.session.Close()
		c.Close()
		c.conn.Close()
		c.fields().Info("readPump exited, client left")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.fields().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.fields().Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.fields().Debugf("Received non-text message type: %d", messageType)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		c.session.Handle(ctx, message)
		cancel()
	}
}

// WritePump 将 send 通道中的消息写入 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.connFields().WithError(err).Warn("Failed to write message to websocket")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.connFields().WithError(err).Warn("Failed to send ping message")
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
