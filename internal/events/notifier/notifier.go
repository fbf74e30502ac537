package notifier

import (
	"log/slog"
	"sync"

	"github.com/letsssgooo/quizhost/internal/metrics"
)

// Handle идентифицирует подписку.
type Handle uint64

// Notifier рассылает уведомления об изменениях всем подписчикам.
// Подписки короткоживущие: одна на каждый ожидающий long-poll запрос.
type Notifier struct {
	name string
	mu   sync.RWMutex
	next Handle
	subs map[Handle]func()
}

// New создаёт реестр подписчиков. name попадает в логи.
func New(name string) *Notifier {
	return &Notifier{
		name: name,
		subs: make(map[Handle]func()),
	}
}

// Subscribe добавляет подписчика и возвращает его handle.
func (n *Notifier) Subscribe(fn func()) Handle {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	n.subs[n.next] = fn

	return n.next
}

// Unsubscribe удаляет подписчика. Повторный вызов безопасен.
func (n *Notifier) Unsubscribe(h Handle) {
	n.mu.Lock()
	delete(n.subs, h)
	n.mu.Unlock()
}

// Len возвращает текущее число подписчиков.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.subs)
}

// Notify синхронно вызывает всех подписчиков.
// Вызывается по снимку реестра, поэтому подписчик может отписаться изнутри колбэка.
func (n *Notifier) Notify() {
	n.mu.RLock()
	snapshot := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		snapshot = append(snapshot, fn)
	}
	n.mu.RUnlock()

	for _, fn := range snapshot {
		n.call(fn)
	}
}

func (n *Notifier) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.Inc()
			slog.Error("subscriber raised an error", "notifier", n.name, "panic", r)
		}
	}()

	fn()
}
