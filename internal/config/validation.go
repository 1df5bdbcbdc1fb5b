package config

import (
	"fmt"
	"net/url"
	"strings"

	"spotpilot/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Exchange.validate(c.Trading.Live); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Admission.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate(live bool) error {
	if e.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url cannot be empty")
	}
	if _, err := url.ParseRequestURI(e.RESTBaseURL); err != nil {
		return fmt.Errorf("exchange.rest_base_url invalid: %w", err)
	}
	if e.ProxyURL != "" {
		if _, err := url.Parse(e.ProxyURL); err != nil {
			return fmt.Errorf("exchange.proxy_url invalid: %w", err)
		}
	}
	if e.RecvWindowMillis <= 0 || e.RecvWindowMillis > 60000 {
		return fmt.Errorf("exchange.recv_window_ms must be within (0, 60000]")
	}
	if e.ConnectTimeoutSeconds <= 0 || e.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("exchange timeouts must be > 0")
	}
	if e.BreakerThreshold <= 0 {
		return fmt.Errorf("exchange.breaker_threshold must be > 0")
	}
	if live && !e.HasCredentials() {
		return fmt.Errorf("trading.live=true requires exchange.api_key and exchange.api_secret (or SPOTPILOT_API_KEY/SPOTPILOT_API_SECRET)")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.DecisionOffsetSeconds < 0 {
		return fmt.Errorf("trading.decision_offset_seconds must be >= 0")
	}
	if _, ok := scheduler.ParseIntervalDuration(t.DecisionInterval); !ok {
		return fmt.Errorf("trading.decision_interval invalid: %q", t.DecisionInterval)
	}
	if t.StopLimitOffsetPct <= 0 || t.StopLimitOffsetPct >= 1 {
		return fmt.Errorf("trading.stop_limit_offset_pct must be within (0, 1)")
	}
	found := false
	for _, s := range t.Symbols {
		if s == t.DefaultSymbol {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("trading.default_symbol %s not listed in trading.symbols", t.DefaultSymbol)
	}
	return nil
}

func (a *AdmissionConfig) validate() error {
	if a.MinRiskReward <= 0 {
		return fmt.Errorf("admission.min_risk_reward must be > 0")
	}
	if a.FeeCacheTTLSeconds <= 0 {
		return fmt.Errorf("admission.fee_cache_ttl_seconds must be > 0")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if r.IntervalSeconds <= 0 {
		return fmt.Errorf("reconcile.interval_seconds must be > 0")
	}
	if r.StartupDelaySeconds < 0 {
		return fmt.Errorf("reconcile.startup_delay_seconds must be >= 0")
	}
	if r.TickTimeoutSeconds <= 0 {
		return fmt.Errorf("reconcile.tick_timeout_seconds must be > 0")
	}
	if r.PendingLookbackHours <= 0 || r.OCOLookbackHours <= 0 {
		return fmt.Errorf("reconcile lookback hours must be > 0")
	}
	if r.DedupWindowSeconds <= 0 {
		return fmt.Errorf("reconcile.dedup_window_seconds must be > 0")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing")
	}
	return nil
}
