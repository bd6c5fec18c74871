package hub

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/dto"
	"hostel-chat/internal/repository"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	// 在线名单镜像写入 Redis 的超时
	mirrorTimeout = 3 * time.Second

	// 定期重写所有房间的镜像，小于镜像的过期时间
	mirrorRefreshInterval = 5 * time.Minute

	// 提交锁按房间哈希分片
	commitStripes = 64
)

// Transport 是一个连接的出站通道。Send 不得阻塞: 无法写入时返回 false，该连接被跳过。
type Transport interface {
	Send(payload []byte) bool
	Close()
}

type presenceEntry struct {
	transport   Transport
	displayName string
}

// roomBucket 保存一个房间的在线名单和广播目标
type roomBucket struct {
	presence map[string]*presenceEntry // user_id -> entry
	conns    map[Transport]struct{}
}

func (b *roomBucket) empty() bool {
	return len(b.presence) == 0 && len(b.conns) == 0
}

// Hub 是连接注册表和在线状态的唯一权威。
// 注册表的修改和广播入队在同一把锁内完成，因此同一房间的所有接收者看到相同的事件顺序。
// 锁内不做任何存储调用。
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*roomBucket

	// 同一房间的 "持久化 + 广播" 在同一分片锁内串行执行
	commitMu [commitStripes]sync.Mutex

	// 在线名单镜像: 每个房间只保留最新一份，由 Run 串行写入
	presenceRepo  repository.PresenceRepository
	pendingMu     sync.Mutex
	pending       map[string]domain.Roster
	pendingSignal chan struct{}
}

// NewHub 创建 Hub。presenceRepo 可以为 nil (不做镜像)。
func NewHub(presenceRepo repository.PresenceRepository) *Hub {
	return &Hub{
		rooms:         make(map[string]*roomBucket),
		presenceRepo:  presenceRepo,
		pending:       make(map[string]domain.Roster),
		pendingSignal: make(chan struct{}, 1),
	}
}

// Run 将在线名单的变化写入外部镜像，直到 ctx 结束。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run(ctx context.Context) {
	log := logrus.WithField("component", "hub")
	log.Info("Hub presence mirror is running...")
	ticker := time.NewTicker(mirrorRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Hub presence mirror is shutting down...")
			return
		case <-h.pendingSignal:
			h.flushRosters(ctx)
		case <-ticker.C:
			h.refreshAll()
			h.flushRosters(ctx)
		}
	}
}

// refreshAll 将所有活跃房间的名单重新排入镜像队列
func (h *Hub) refreshAll() {
	h.mu.Lock()
	rosters := make([]domain.Roster, 0, len(h.rooms))
	for room, bucket := range h.rooms {
		rosters = append(rosters, rosterOf(room, bucket))
	}
	h.mu.Unlock()

	h.pendingMu.Lock()
	for _, roster := range rosters {
		if _, ok := h.pending[roster.Room]; !ok {
			h.pending[roster.Room] = roster
		}
	}
	h.pendingMu.Unlock()
}

func (h *Hub) flushRosters(ctx context.Context) {
	h.pendingMu.Lock()
	batch := h.pending
	h.pending = make(map[string]domain.Roster, len(batch))
	h.pendingMu.Unlock()

	if h.presenceRepo == nil {
		return
	}
	for room, roster := range batch {
		saveCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		if err := h.presenceRepo.SaveRoster(saveCtx, roster); err != nil {
			logrus.WithFields(logrus.Fields{"component": "hub", "room_id": room}).
				WithError(err).Warn("Failed to mirror room roster")
		}
		cancel()
	}
}

func (h *Hub) queueRoster(roster domain.Roster) {
	h.pendingMu.Lock()
	h.pending[roster.Room] = roster
	h.pendingMu.Unlock()
	select {
	case h.pendingSignal <- struct{}{}:
	default:
	}
}

// Join 注册或替换 (room, userID) 的在线条目，并向房间广播最新名单。
func (h *Hub) Join(room, userID, displayName string, t Transport) domain.Roster {
	h.mu.Lock()
	bucket, ok := h.rooms[room]
	if !ok {
		bucket = &roomBucket{
			presence: make(map[string]*presenceEntry),
			conns:    make(map[Transport]struct{}),
		}
		h.rooms[room] = bucket
	}
	bucket.presence[userID] = &presenceEntry{transport: t, displayName: displayName}
	bucket.conns[t] = struct{}{}
	roster := rosterOf(room, bucket)
	h.fanOutLocked(bucket, dto.Encode(dto.NewUsersEvent(roster)))
	h.mu.Unlock()

	h.queueRoster(roster)
	logrus.WithFields(logrus.Fields{"room_id": room, "user_id": userID, "count": roster.Count}).Info("User joined room")
	return roster
}

// Leave 移除连接。只有当该连接仍持有 (room, userID) 的条目时才移除在线条目，
// 避免旧标签页关闭时把新标签页踢下线。房间为空时删除整个 bucket。
func (h *Hub) Leave(room, userID string, t Transport) {
	h.mu.Lock()
	bucket, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if entry, ok := bucket.presence[userID]; ok && entry.transport == t {
		delete(bucket.presence, userID)
	}
	delete(bucket.conns, t)
	if bucket.empty() {
		delete(h.rooms, room)
	}
	roster := rosterOf(room, bucket)
	h.fanOutLocked(bucket, dto.Encode(dto.NewUsersEvent(roster)))
	h.mu.Unlock()

	h.queueRoster(roster)
	logrus.WithFields(logrus.Fields{"room_id": room, "user_id": userID, "count": roster.Count}).Info("User left room")
}

// Broadcast 将 payload 发给房间内所有连接
func (h *Hub) Broadcast(room string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if bucket, ok := h.rooms[room]; ok {
		h.fanOutLocked(bucket, payload)
	}
}

// Commit 在房间的提交锁内执行 persist，成功后立即广播它返回的事件。
// 同一房间的广播顺序因此与持久化完成的顺序一致。persist 执行期间不持有注册表锁。
// persist 返回 nil payload 时不广播。
func (h *Hub) Commit(room string, persist func() ([]byte, error)) error {
	mu := &h.commitMu[commitStripe(room)]
	mu.Lock()
	defer mu.Unlock()

	payload, err := persist()
	if err != nil {
		return err
	}
	if payload != nil {
		h.Broadcast(room, payload)
	}
	return nil
}

func commitStripe(room string) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(room))
	return f.Sum32() % commitStripes
}

// BroadcastAll 将 payload 发给所有房间的所有连接
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, bucket := range h.rooms {
		h.fanOutLocked(bucket, payload)
	}
}

// NotifyChatCleared 通知所有连接聊天记录已被清空
func (h *Hub) NotifyChatCleared() {
	h.BroadcastAll(dto.Encode(dto.ChatClearedEvent{Type: dto.EventChatCleared}))
	logrus.WithField("component", "hub").Info("Broadcast chat_cleared to all rooms")
}

func (h *Hub) fanOutLocked(bucket *roomBucket, payload []byte) {
	for t := range bucket.conns {
		// 无法写入的连接直接跳过，由其自身的读写循环负责清理
		t.Send(payload)
	}
}

// Roster 返回房间当前在线名单 (纯读取)
func (h *Hub) Roster(room string) domain.Roster {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, ok := h.rooms[room]
	if !ok {
		return domain.Roster{Room: room, Names: []string{}}
	}
	return rosterOf(room, bucket)
}

// Rooms 返回当前有连接的房间
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// CloseAll 关闭所有连接，用于进程退出
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []Transport
	for _, bucket := range h.rooms {
		for t := range bucket.conns {
			all = append(all, t)
		}
	}
	h.mu.Unlock()
	for _, t := range all {
		t.Close()
	}
	logrus.WithFields(logrus.Fields{"component": "hub", "connections": len(all)}).Info("Closed all client connections")
}

func rosterOf(room string, bucket *roomBucket) domain.Roster {
	names := make([]string, 0, len(bucket.presence))
	for _, entry := range bucket.presence {
		names = append(names, entry.displayName)
	}
	sort.Strings(names)
	return domain.Roster{Room: room, Count: len(bucket.presence), Names: names}
}
