package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spotpilot/internal/config"
	"spotpilot/internal/decision"
	"spotpilot/internal/engine"
	"spotpilot/internal/executor"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/logger"
	"spotpilot/internal/market"
	"spotpilot/internal/metrics"
	"spotpilot/internal/reconcile"
	"spotpilot/internal/scheduler"
	"spotpilot/internal/store/eventlog"
	"spotpilot/internal/store/gormstore"
	livehttp "spotpilot/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：决策触发、对账循环与 HTTP 服务三个独立 goroutine。
type App struct {
	cfg *config.Config

	Gateway    exchange.Gateway
	Store      *gormstore.GormStore
	Events     *eventlog.Store
	Rules      *market.RulesCache
	Fees       *market.FeeCache
	Executor   *executor.Executor
	Engine     *engine.Engine
	Reconciler *reconcile.Loop
	Metrics    *metrics.Metrics
	HTTP       *livehttp.Server
	Summary    *StartupSummary

	decisionSrc  decision.Source
	watcher      *decision.DirWatcher
	eventLogPath string
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg, opts...).Build(context.Background())
}

func (a *App) Config() *config.Config { return a.cfg }

// Run starts every enabled trigger and blocks until ctx is done or one fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.loadRules(ctx)

	group, ctx := errgroup.WithContext(ctx)
	if a.HTTP != nil {
		group.Go(func() error {
			if err := a.HTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	if a.cfg.Trading.DecisionEnabled && a.decisionSrc != nil {
		interval, _ := scheduler.ParseIntervalDuration(a.cfg.Trading.DecisionInterval)
		sched := scheduler.NewAlignedScheduler(ctx, interval, time.Duration(a.cfg.Trading.DecisionOffsetSeconds)*time.Second)
		sched.Name = "decision"
		group.Go(func() error {
			sched.Start(func(ctx context.Context) {
				a.Engine.RunDecision(ctx, a.decisionSrc)
			})
			return nil
		})
	}
	if a.watcher != nil {
		group.Go(func() error {
			err := a.watcher.Run(ctx, a.Engine.Handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("proposal watcher: %w", err)
			}
			return nil
		})
	}
	if a.cfg.Reconcile.Enabled {
		sched := scheduler.NewFixedDelayScheduler("reconcile", a.cfg.Reconcile.StartupDelay(), a.cfg.Reconcile.Interval())
		group.Go(func() error {
			sched.Start(ctx, a.Reconciler.Tick)
			return nil
		})
	}
	return group.Wait()
}

func (a *App) loadRules(ctx context.Context) {
	if len(a.cfg.Trading.Symbols) == 0 || a.Rules == nil {
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.Rules.Load(loadCtx); err != nil {
		// 交易规则在首次下单时按需补拉
		logger.Warnf("加载交易规则失败: %v", err)
	}
}

// Close releases the stores; safe on a partially built App.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			logger.Warnf("close event log: %v", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}
}
