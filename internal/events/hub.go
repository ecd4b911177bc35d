package events

import (
	"sync"
	"time"

	"github.com/zillopoly/zillopoly/internal/metrics"
	"github.com/zillopoly/zillopoly/pkg/logger"
)

// Hub 进程内事件总线（广播给所有订阅者）
// 发布是非阻塞的：订阅者的 channel 满时丢弃该订阅者本次事件，
// 慢消费者不能拖慢账本提交路径
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewHub 创建事件总线
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe 订阅事件流，返回只读 channel 和取消函数
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish 广播事件（非阻塞）
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.Add(1)
			logger.Debugf("[events] 订阅者 %d 消费过慢，丢弃事件 %s", id, ev.Type)
		}
	}
}

// SubscriberCount 当前订阅者数量
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
