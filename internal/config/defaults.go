package config

import (
	"strings"

	"spotpilot/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv               = "dev"
	defaultAppLogLevel          = "info"
	defaultExchangeName         = "binance"
	defaultExchangeREST         = DefaultExchangeREST
	defaultRecvWindowMillis     = 5000
	defaultConnectTimeout       = 5
	defaultReadTimeout          = 20
	defaultRequestsPerSecond    = 10
	defaultBurst                = 20
	defaultBreakerThreshold     = 5
	defaultBreakerCooldown      = 30
	defaultSymbol               = "ETHUSDT"
	defaultStopLimitOffsetPct   = 0.005
	defaultDecisionInterval     = "1h"
	defaultDecisionOffset       = 10
	defaultMinRiskReward        = 2.0
	defaultFeeCacheTTL          = 600
	defaultReconcileInterval    = 60
	defaultReconcileStartDelay  = 30
	defaultReconcileTickTimeout = 50
	defaultPendingLookback      = 72
	defaultOCOLookback          = 168
	defaultDedupWindow          = 300
	defaultStorePath            = "data/spotpilot.db"
	defaultEventLogPath         = "data/events.db"
	defaultHTTPAddr             = ":9991"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Admission.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultExchangeREST),
		positiveInt64Default("exchange.recv_window_ms", &e.RecvWindowMillis, defaultRecvWindowMillis),
		positiveIntDefault("exchange.connect_timeout_seconds", &e.ConnectTimeoutSeconds, defaultConnectTimeout),
		positiveIntDefault("exchange.read_timeout_seconds", &e.ReadTimeoutSeconds, defaultReadTimeout),
		fieldDefault{
			key:   "exchange.requests_per_second",
			need:  func() bool { return e.RequestsPerSecond <= 0 },
			apply: func() { e.RequestsPerSecond = defaultRequestsPerSecond },
		},
		positiveIntDefault("exchange.burst", &e.Burst, defaultBurst),
		positiveIntDefault("exchange.breaker_threshold", &e.BreakerThreshold, defaultBreakerThreshold),
		positiveIntDefault("exchange.breaker_cooldown_seconds", &e.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
	e.RESTBaseURL = strings.TrimRight(strings.TrimSpace(e.RESTBaseURL), "/")
	e.ProxyURL = strings.TrimSpace(e.ProxyURL)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.decision_interval", &t.DecisionInterval, defaultDecisionInterval),
		boolFieldDefault("trading.decision_enabled", &t.DecisionEnabled, true),
		fieldDefault{
			key:   "trading.stop_limit_offset_pct",
			need:  func() bool { return t.StopLimitOffsetPct <= 0 || t.StopLimitOffsetPct >= 1 },
			apply: func() { t.StopLimitOffsetPct = defaultStopLimitOffsetPct },
		},
		fieldDefault{
			key:   "trading.decision_offset_seconds",
			need:  func() bool { return t.DecisionOffsetSeconds == 0 },
			apply: func() { t.DecisionOffsetSeconds = defaultDecisionOffset },
		},
	)
	t.Symbols = symbol.NormalizeList(t.Symbols)
	t.DefaultSymbol = symbol.Normalize(t.DefaultSymbol)
	if t.DefaultSymbol == "" {
		if len(t.Symbols) > 0 {
			t.DefaultSymbol = t.Symbols[0]
		} else {
			t.DefaultSymbol = defaultSymbol
		}
	}
	if len(t.Symbols) == 0 {
		t.Symbols = []string{t.DefaultSymbol}
	}
}

func (a *AdmissionConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "admission.min_risk_reward",
			need:  func() bool { return a.MinRiskReward <= 0 },
			apply: func() { a.MinRiskReward = defaultMinRiskReward },
		},
		positiveIntDefault("admission.fee_cache_ttl_seconds", &a.FeeCacheTTLSeconds, defaultFeeCacheTTL),
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("reconcile.enabled", &r.Enabled, true),
		positiveIntDefault("reconcile.interval_seconds", &r.IntervalSeconds, defaultReconcileInterval),
		fieldDefault{
			key:   "reconcile.startup_delay_seconds",
			need:  func() bool { return r.StartupDelaySeconds <= 0 },
			apply: func() { r.StartupDelaySeconds = defaultReconcileStartDelay },
		},
		positiveIntDefault("reconcile.tick_timeout_seconds", &r.TickTimeoutSeconds, defaultReconcileTickTimeout),
		positiveIntDefault("reconcile.pending_lookback_hours", &r.PendingLookbackHours, defaultPendingLookback),
		positiveIntDefault("reconcile.oco_lookback_hours", &r.OCOLookbackHours, defaultOCOLookback),
		positiveIntDefault("reconcile.dedup_window_seconds", &r.DedupWindowSeconds, defaultDedupWindow),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.event_log_path", &s.EventLogPath, defaultEventLogPath),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func positiveIntDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func positiveInt64Default(key string, target *int64, def int64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
