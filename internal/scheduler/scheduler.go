package scheduler

import (
	"context"
	"time"

	"spotpilot/internal/logger"
)

// AlignedScheduler fires a task at every interval boundary (UTC) plus Offset,
// e.g. interval=1h offset=10s runs at hh:00:10.
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
	log   *logger.Component
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks until ctx is done. task runs on the caller's goroutine, so a
// slow task pushes the next run to the following boundary instead of overlapping.
func (s *AlignedScheduler) Start(task func(context.Context)) {
	if s == nil {
		return
	}
	s.log = logger.Named("scheduler").With("name", s.name())
	if task == nil {
		s.log.Warnf("aligned scheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		s.log.Warnf("aligned scheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		s.log.Warnf("aligned scheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	s.log.Infof("aligned scheduler started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(s.ctx)
	}

	for {
		now := s.nowFn().UTC()
		boundary, wakeAt, wait := s.nextTimes(now)
		s.log.Debugf("next boundary=%s wake=%s in=%s uptime=%s",
			boundary.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second),
		)
		if !sleepCtx(s.ctx, wait) {
			s.log.Infof("aligned scheduler: ctx done, exit")
			return
		}
		task(s.ctx)
	}
}

func (s *AlignedScheduler) name() string {
	if s.Name == "" {
		return "aligned"
	}
	return s.Name
}

func (s *AlignedScheduler) nextTimes(now time.Time) (boundary, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	// 仍处于本周期 offset 之前时，直接使用当前周期
	if prev := now.Truncate(s.Interval).Add(s.Offset); prev.After(now) {
		boundary = now.Truncate(s.Interval)
		wakeAt = prev
	}
	return boundary, wakeAt, wakeAt.Sub(now)
}

// sleepCtx waits d or until ctx is done; it reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
