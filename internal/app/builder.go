package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"spotpilot/internal/admission"
	"spotpilot/internal/config"
	"spotpilot/internal/decision"
	"spotpilot/internal/engine"
	"spotpilot/internal/executor"
	"spotpilot/internal/gateway"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/gateway/notifier"
	"spotpilot/internal/logger"
	"spotpilot/internal/market"
	"spotpilot/internal/metrics"
	"spotpilot/internal/reconcile"
	"spotpilot/internal/store/eventlog"
	"spotpilot/internal/store/gormstore"
	livehttp "spotpilot/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *config.Config

	gatewayFn  func(config.ExchangeConfig, *metrics.Metrics) (exchange.Gateway, error)
	telegramFn func(config.NotifyConfig) notifier.TextNotifier
	nowFn      func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithGateway replaces the Binance gateway (tests, paper trading).
func WithGateway(gw exchange.Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gatewayFn = func(config.ExchangeConfig, *metrics.Metrics) (exchange.Gateway, error) { return gw, nil }
	}
}

func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) { b.nowFn = now }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		gatewayFn:  gateway.NewFromConfig,
		telegramFn: newTelegram,
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetJSON(cfg.App.LogJSON)

	a := &App{cfg: cfg}
	a.Metrics = metrics.New()

	gw, err := b.gatewayFn(cfg.Exchange, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所网关失败: %w", err)
	}
	a.Gateway = gw

	if err := b.buildStores(a); err != nil {
		a.Close()
		return nil, err
	}

	a.Rules = market.NewRulesCache(gw, cfg.Trading.Symbols)
	a.Fees = market.NewFeeCache(gw, cfg.Admission.FeeCacheTTL())
	a.Executor = executor.New(gw, a.Rules, executor.Options{
		Live:            cfg.Trading.Live,
		HasCredentials:  cfg.Exchange.HasCredentials(),
		StopLimitOffset: cfg.Trading.StopLimitOffsetPct,
		Metrics:         a.Metrics,
	})
	sink := b.buildSink(a)

	a.Engine, err = engine.New(engine.Deps{
		Store:     a.Store,
		Admission: admission.NewController(cfg.Admission.MinRiskReward, cfg.Admission.FeeGateFailClosed),
		Executor:  a.Executor,
		Fees:      a.Fees,
		Prices:    gw,
		Sink:      sink,
		Metrics:   a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Reconciler = reconcile.New(a.Store, gw, a.Executor, reconcile.Options{
		PendingLookback: cfg.Reconcile.PendingLookback(),
		OCOLookback:     cfg.Reconcile.OCOLookback(),
		TickTimeout:     cfg.Reconcile.TickTimeout(),
		Metrics:         a.Metrics,
		Sink:            sink,
		Now:             b.nowFn,
	})

	if path := strings.TrimSpace(cfg.Trading.ProposalPath); path != "" {
		a.decisionSrc = decision.NewFileSource(path, cfg.Trading.DefaultSymbol)
	}
	if dir := strings.TrimSpace(cfg.Trading.ProposalDir); dir != "" {
		a.watcher = decision.NewDirWatcher(dir, cfg.Trading.DefaultSymbol)
	}

	if cfg.HTTP.Enabled {
		router := livehttp.NewRouter(livehttp.Router{
			Recommendations: a.Store,
			Submitter:       a.Engine,
			Reconciler:      a.Reconciler,
			Events:          a.Events,
			Account:         gw,
			DefaultSymbol:   cfg.Trading.DefaultSymbol,
		})
		a.HTTP, err = livehttp.NewServer(livehttp.ServerConfig{
			Addr:    cfg.HTTP.Addr,
			Metrics: a.Metrics.Handler(),
			Router:  router,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Summary = &StartupSummary{
		Exchange:         gw.Name(),
		Live:             a.Executor.Live(),
		Symbols:          cfg.Trading.Symbols,
		DecisionInterval: cfg.Trading.DecisionInterval,
		ProposalPath:     cfg.Trading.ProposalPath,
		ProposalDir:      cfg.Trading.ProposalDir,
		ReconcileEvery:   cfg.Reconcile.Interval(),
		StorePath:        cfg.Store.Path,
		EventLogPath:     a.eventLogPath,
		HTTPAddr:         a.HTTP.Addr(),
		FeeGateClosed:    cfg.Admission.FeeGateFailClosed,
	}
	return a, nil
}

func (b *AppBuilder) buildStores(a *App) error {
	cfg := b.cfg
	path := strings.TrimSpace(cfg.Store.Path)
	if path == "" {
		return fmt.Errorf("store.path 未配置，无法初始化存储")
	}
	st, err := gormstore.NewGormStore(path,
		gormstore.WithClock(b.nowFn),
		gormstore.WithDedupWindow(cfg.Reconcile.DedupWindow()))
	if err != nil {
		return fmt.Errorf("初始化 gorm 存储失败: %w", err)
	}
	a.Store = st

	evPath := strings.TrimSpace(cfg.Store.EventLogPath)
	if evPath == "" || samePath(evPath, path) {
		// 与建议存储共用同一连接
		sqlDB, err := st.SQLDB()
		if err != nil {
			return fmt.Errorf("获取 SQL DB 失败: %w", err)
		}
		events := &eventlog.Store{}
		if err := events.UseExternalDB(sqlDB); err != nil {
			return fmt.Errorf("绑定事件日志存储失败: %w", err)
		}
		a.Events = events
		a.eventLogPath = path
		return nil
	}
	events, err := eventlog.New(evPath)
	if err != nil {
		return fmt.Errorf("初始化事件日志失败: %w", err)
	}
	a.Events = events
	a.eventLogPath = evPath
	return nil
}

func (b *AppBuilder) buildSink(a *App) notifier.Sink {
	sinks := notifier.Multi{notifier.LogSink{}, a.Events}
	if tg := b.telegramFn(b.cfg.Notify); tg != nil {
		sinks = append(sinks, notifier.TextSink{Notifier: tg})
	}
	return sinks
}

func newTelegram(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func samePath(a, b string) bool {
	ca, errA := filepath.Abs(a)
	cb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ca == cb
}
