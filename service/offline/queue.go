package offline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizlink/logger"
	"quizlink/tools/errs"
	"quizlink/tools/ids"
)

const (
	DefaultKey      = "quizlink:offline_actions"
	DefaultCapacity = 100
	DefaultMaxAge   = 7 * 24 * time.Hour
)

type QueueConf struct {
	Key      string           // 持久化 key
	Capacity int              // 超出时淘汰最老的一条
	Clock    func() time.Time // 可注入时钟（单测用）；nil => time.Now
	NewID    func() string    // nil => ids.ActionID
	Log      *zap.Logger
}

func (c *QueueConf) norm() {
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = ids.ActionID
	}
	if c.Log == nil {
		c.Log = logger.Named("offline")
	}
}

// Queue is a bounded FIFO of actions. Every mutation rewrites the whole list to
// the store, so the persisted copy is always one consistent snapshot.
type Queue struct {
	mu      sync.Mutex
	conf    QueueConf
	store   Store
	actions []Action
	evicted int
}

// NewQueue loads the persisted list. A corrupt or unreadable blob is logged and
// the queue starts empty.
func NewQueue(ctx context.Context, store Store, conf QueueConf) *Queue {
	conf.norm()
	q := &Queue{conf: conf, store: store}
	blob, err := store.Load(ctx, conf.Key)
	if err != nil {
		conf.Log.Warn("load offline queue failed, starting empty", zap.String("key", conf.Key), zap.Error(err))
		return q
	}
	if len(blob) == 0 {
		return q
	}
	var list []Action
	if err := json.Unmarshal(blob, &list); err != nil {
		conf.Log.Warn("corrupt offline queue, starting empty", zap.String("key", conf.Key), zap.Error(err))
		return q
	}
	if len(list) > conf.Capacity {
		list = list[len(list)-conf.Capacity:]
	}
	q.actions = list
	conf.Log.Debug("offline queue loaded", zap.Int("size", len(list)))
	return q
}

// QueueAction appends a new action, evicting the oldest when the queue is full.
// The action stays queued in memory even when persisting fails; the error is
// still returned.
func (q *Queue) QueueAction(ctx context.Context, typ ActionType, payload map[string]any) (Action, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	a := Action{
		ID:        q.conf.NewID(),
		Type:      typ,
		Payload:   payload,
		Timestamp: q.conf.Clock().UnixMilli(),
	}
	q.actions = append(q.actions, a)
	if over := len(q.actions) - q.conf.Capacity; over > 0 {
		for _, old := range q.actions[:over] {
			q.conf.Log.Info("offline queue full, evicting oldest", zap.String("id", old.ID), zap.String("type", string(old.Type)))
		}
		q.actions = append([]Action(nil), q.actions[over:]...)
		q.evicted += over
	}
	return a, q.persistLocked(ctx)
}

// GetRetryableActions returns actions with RetryCount < maxRetries in enqueue order.
func (q *Queue) GetRetryableActions(maxRetries int) []Action {
	return q.filter(func(a Action) bool { return a.RetryCount < maxRetries })
}

func (q *Queue) GetActionsByType(typ ActionType) []Action {
	return q.filter(func(a Action) bool { return a.Type == typ })
}

func (q *Queue) filter(keep func(Action) bool) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, 0, len(q.actions))
	for _, a := range q.actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// RemoveAction is a no-op for unknown ids.
func (q *Queue) RemoveAction(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, a := range q.actions {
		if a.ID == id {
			q.actions = append(q.actions[:i:i], q.actions[i+1:]...)
			return q.persistLocked(ctx)
		}
	}
	return nil
}

func (q *Queue) IncrementRetryCount(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions[i].RetryCount++
			return q.persistLocked(ctx)
		}
	}
	return nil
}

func (q *Queue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = nil
	return q.persistLocked(ctx)
}

// ClearOldActions drops actions older than maxAge (<=0 means DefaultMaxAge) and
// returns how many were removed.
func (q *Queue) ClearOldActions(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.conf.Clock()
	kept := q.actions[:0:0]
	for _, a := range q.actions {
		if a.Age(now) <= maxAge {
			kept = append(kept, a)
		}
	}
	removed := len(q.actions) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	q.actions = kept
	return removed, q.persistLocked(ctx)
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *Queue) IsEmpty() bool { return q.Size() == 0 }

// Evicted counts actions dropped by the capacity limit since start.
func (q *Queue) Evicted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Snapshot returns a copy of the queue in enqueue order.
func (q *Queue) Snapshot() []Action {
	return q.filter(func(Action) bool { return true })
}

func (q *Queue) persistLocked(ctx context.Context) error {
	list := q.actions
	if list == nil {
		list = []Action{}
	}
	blob, err := json.Marshal(list)
	if err != nil {
		return errs.WrapMsg(err, "marshal offline queue")
	}
	if err := q.store.Save(ctx, q.conf.Key, blob); err != nil {
		q.conf.Log.Warn("persist offline queue failed", zap.String("key", q.conf.Key), zap.Error(err))
		return err
	}
	return nil
}
