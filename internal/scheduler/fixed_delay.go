package scheduler

import (
	"context"
	"time"

	"spotpilot/internal/logger"
)

// FixedDelayScheduler runs a task after InitialDelay and then Delay after each
// completion. Runs never overlap.
type FixedDelayScheduler struct {
	Name         string
	InitialDelay time.Duration
	Delay        time.Duration
}

func NewFixedDelayScheduler(name string, initialDelay, delay time.Duration) *FixedDelayScheduler {
	return &FixedDelayScheduler{Name: name, InitialDelay: initialDelay, Delay: delay}
}

func (s *FixedDelayScheduler) Start(ctx context.Context, task func(context.Context)) {
	if s == nil {
		return
	}
	log := logger.Named("scheduler").With("name", s.Name)
	if task == nil {
		log.Warnf("fixed-delay scheduler: task is nil, exit")
		return
	}
	if s.Delay <= 0 {
		log.Warnf("fixed-delay scheduler: invalid delay=%s, exit", s.Delay)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log.Infof("fixed-delay scheduler started initial_delay=%s delay=%s", s.InitialDelay, s.Delay)
	if !sleepCtx(ctx, s.InitialDelay) {
		return
	}
	for {
		task(ctx)
		if !sleepCtx(ctx, s.Delay) {
			log.Infof("fixed-delay scheduler: ctx done, exit")
			return
		}
	}
}
