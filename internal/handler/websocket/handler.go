package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hostel-chat/internal/hub"
	"hostel-chat/internal/middleware"
)

// WebSocketHandler 负责处理 WebSocket 升级请求并启动客户端
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	hub       *hub.Hub
	chat      hub.ChatService
	rateLimit hub.RateLimit
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigins 为空时接受任意来源 (开发环境)。
func NewWebSocketHandler(h *hub.Hub, chat hub.ChatService, allowedOrigins []string, rateLimit hub.RateLimit) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if chat == nil {
		panic("ChatService cannot be nil for WebSocketHandler")
	}

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		hub:       h,
		chat:      chat,
		rateLimit: rateLimit,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 非浏览器客户端
			return true
		}
		if _, err := url.Parse(origin); err != nil {
			return false
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// HandleConnection 处理 WebSocket 连接请求。房间在连接后由 join 事件指定。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	identity := hub.Identity{
		UserID:      c.GetString(middleware.ContextUserID),
		DisplayName: c.GetString(middleware.ContextDisplayName),
	}
	logCtx := logrus.WithField("user_id", identity.UserID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.WithField("remote", conn.RemoteAddr().String()).Info("WS Handler: Connection upgraded to WebSocket")

	hub.NewClient(h.hub, h.chat, conn, identity, h.rateLimit).Run()
}
