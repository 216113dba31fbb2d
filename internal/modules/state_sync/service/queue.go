package service

import (
	"sync"

	"screener_bot/internal/models"
)

// Queue — ограниченная очередь с вытеснением самого старого элемента.
// Потеря старых записей при переполнении считается и видна в heartbeat,
// но никогда не блокирует продьюсера.
type Queue[T any] struct {
	mu        sync.Mutex
	items     []T
	cap       int
	evictions int64
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == q.cap {
		copy(q.items, q.items[1:])
		q.items[len(q.items)-1] = item
		q.evictions++
		return
	}
	q.items = append(q.items, item)
}

// Drain забирает всё содержимое; очередь остаётся пустой.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]T, 0, q.cap)
	return out
}

// Restore возвращает не доставленный батч в начало очереди. Если за время
// неудачного флаша накопилось свежее и суммарно больше cap — старые из
// восстановленных вытесняются первыми.
func (q *Queue[T]) Restore(batch []T) {
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(batch)+len(q.items))
	merged = append(merged, batch...)
	merged = append(merged, q.items...)
	if over := len(merged) - q.cap; over > 0 {
		q.evictions += int64(over)
		merged = merged[over:]
	}
	q.items = merged
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Evictions() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evictions
}

// Queues — три независимые очереди стейт-синка. Продьюсеры (скринер,
// реестр, heartbeat) пишут сюда, флашит их только синкер.
type Queues struct {
	Signals *Queue[models.Signal]
	Metrics *Queue[models.Metric]
	Events  *Queue[models.Event]
}

func NewQueues(capacity int) *Queues {
	return &Queues{
		Signals: NewQueue[models.Signal](capacity),
		Metrics: NewQueue[models.Metric](capacity),
		Events:  NewQueue[models.Event](capacity),
	}
}

func (q *Queues) PublishSignal(sig models.Signal) { q.Signals.Push(sig) }
func (q *Queues) PublishMetric(m models.Metric)   { q.Metrics.Push(m) }
func (q *Queues) PublishEvent(ev models.Event)    { q.Events.Push(ev) }
