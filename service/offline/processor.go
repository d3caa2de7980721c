package offline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quizlink/tools/safe"
)

const DefaultMaxRetries = 3

// Result of one replay pass.
type Result struct {
	Attempted    int      `json:"attempted"`
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	SucceededIDs []string `json:"succeededIds,omitempty"`
	FailedIDs    []string `json:"failedIds,omitempty"`
}

type Processor struct {
	q          *Queue
	maxRetries int
	limiter    *rate.Limiter
	log        *zap.Logger
}

type ProcessorOption func(*Processor)

// WithMaxRetries: actions that failed this many times are skipped.
func WithMaxRetries(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// WithLimiter paces executor calls.
func WithLimiter(l *rate.Limiter) ProcessorOption {
	return func(p *Processor) { p.limiter = l }
}

func NewProcessor(q *Queue, opts ...ProcessorOption) *Processor {
	p := &Processor{q: q, maxRetries: DefaultMaxRetries, log: q.conf.Log}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessQueue replays every retryable action in enqueue order. A success removes
// the action, a failure or a panic bumps its retry count.
func (p *Processor) ProcessQueue(ctx context.Context, exec Executor) Result {
	return p.run(ctx, p.q.GetRetryableActions(p.maxRetries), exec)
}

// ProcessActionType is ProcessQueue restricted to one type.
func (p *Processor) ProcessActionType(ctx context.Context, typ ActionType, exec Executor) Result {
	var todo []Action
	for _, a := range p.q.GetRetryableActions(p.maxRetries) {
		if a.Type == typ {
			todo = append(todo, a)
		}
	}
	return p.run(ctx, todo, exec)
}

func (p *Processor) run(ctx context.Context, todo []Action, exec Executor) Result {
	var res Result
	for _, a := range todo {
		if ctx.Err() != nil {
			break
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				break
			}
		}
		res.Attempted++
		if err := safeExec(ctx, exec, a); err != nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, a.ID)
			p.log.Debug("offline action failed", zap.String("id", a.ID), zap.String("type", string(a.Type)),
				zap.Int("retry", a.RetryCount+1), zap.Error(err))
			if err := p.q.IncrementRetryCount(ctx, a.ID); err != nil {
				p.log.Warn("bump retry count", zap.String("id", a.ID), zap.Error(err))
			}
			continue
		}
		res.Succeeded++
		res.SucceededIDs = append(res.SucceededIDs, a.ID)
		if err := p.q.RemoveAction(ctx, a.ID); err != nil {
			p.log.Warn("remove delivered action", zap.String("id", a.ID), zap.Error(err))
		}
	}
	if res.Attempted > 0 {
		p.log.Info("offline queue processed", zap.Int("attempted", res.Attempted),
			zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	}
	return res
}

func safeExec(ctx context.Context, exec Executor, a Action) error {
	var err error
	if perr := safe.Call(nil, "offline executor", func() { err = exec(ctx, a) }); perr != nil {
		return perr
	}
	return err
}
