// 消息总线
// Scheduler 与 Allocator 通过总线向外部观察者广播生命周期/资源事件，
// 核心逻辑对订阅方一无所知；发布永不阻塞调用方
package eventbus

import (
	"context"
	"sync"
	"time"

	"reachmaster/internal/pkg/logger"
)

// 事件主题
const (
	TopicMissionCreated      = "mission.created"
	TopicMissionStateChanged = "mission.stateChanged"
	TopicMissionCompleted    = "mission.completed"
	TopicMissionFailed       = "mission.failed"
	TopicLeaseGranted        = "resource.leaseGranted"
	TopicLeaseReleased       = "resource.leaseReleased"
	TopicPoolExhausted       = "resource.poolExhausted"
	TopicDecisionResolved    = "decision.resolved"
)

// Event 总线事件
type Event struct {
	Topic     string                 `json:"topic"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Bus 消息总线接口
type Bus interface {
	// Publish 发布事件；实现必须非阻塞且不向调用方返回业务错误
	Publish(ctx context.Context, event Event)
	// Subscribe 订阅全部事件，返回只读通道与退订函数
	Subscribe() (<-chan Event, func())
}

// Forwarder 外部转发器(如 Redis PUBLISH)，由 Hub 在发布时调用
type Forwarder interface {
	Forward(ctx context.Context, event Event) error
}

// Hub 进程内消息总线
// 订阅者使用有缓冲通道；缓冲满时丢弃该订阅者的事件而不是阻塞发布方
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	queueSize   int
	forwarders  []Forwarder
}

// NewHub 创建进程内消息总线
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		subscribers: make(map[int]chan Event),
		queueSize:   queueSize,
	}
}

// AttachForwarder 挂载外部转发器
func (h *Hub) AttachForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarders = append(h.forwarders, f)
}

// Publish 发布事件
func (h *Hub) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// 投递全程持有读锁: 退订方在写锁下 close 通道，
	// 读锁内发送排除了向已关闭通道发送的竞争；发送本身非阻塞，锁持有时间有界
	h.mu.RLock()
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// 慢订阅者丢事件，保证发布方不被拖住
		}
	}
	forwarders := make([]Forwarder, len(h.forwarders))
	copy(forwarders, h.forwarders)
	h.mu.RUnlock()

	for _, f := range forwarders {
		if err := f.Forward(ctx, event); err != nil {
			logger.WithFields(map[string]interface{}{
				"topic":     event.Topic,
				"error":     err.Error(),
				"func_name": "eventbus.Hub.Publish",
			}).Warn("event forward failed")
		}
	}
}

// Subscribe 订阅全部事件
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.queueSize)
	h.subscribers[id] = ch
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if existing, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(existing)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}
