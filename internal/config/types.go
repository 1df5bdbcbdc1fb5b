package config

import (
	"strings"
	"time"
)

// Config 是 spotpilot 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Trading   TradingConfig   `toml:"trading"`
	Admission AdmissionConfig `toml:"admission"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Store     StoreConfig     `toml:"store"`
	HTTP      HTTPConfig      `toml:"http"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	LogJSON  bool   `toml:"log_json"`
}

// DefaultExchangeREST is the Binance spot production endpoint.
const DefaultExchangeREST = "https://api.binance.com"

// ExchangeConfig 描述现货交易所 REST 接入参数。
type ExchangeConfig struct {
	Name                   string  `toml:"name"`
	RESTBaseURL            string  `toml:"rest_base_url"`
	APIKey                 string  `toml:"api_key"`
	APISecret              string  `toml:"api_secret"`
	RecvWindowMillis       int64   `toml:"recv_window_ms"`
	ConnectTimeoutSeconds  int     `toml:"connect_timeout_seconds"`
	ReadTimeoutSeconds     int     `toml:"read_timeout_seconds"`
	RequestsPerSecond      float64 `toml:"requests_per_second"`
	Burst                  int     `toml:"burst"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
	ProxyURL               string  `toml:"proxy_url"`
}

func (e ExchangeConfig) HasCredentials() bool {
	return strings.TrimSpace(e.APIKey) != "" && strings.TrimSpace(e.APISecret) != ""
}

func (e ExchangeConfig) ConnectTimeout() time.Duration {
	return time.Duration(e.ConnectTimeoutSeconds) * time.Second
}

func (e ExchangeConfig) ReadTimeout() time.Duration {
	return time.Duration(e.ReadTimeoutSeconds) * time.Second
}

func (e ExchangeConfig) BreakerCooldown() time.Duration {
	return time.Duration(e.BreakerCooldownSeconds) * time.Second
}

// TradingConfig 控制交易对、决策触发与下单细节。
type TradingConfig struct {
	Live                  bool     `toml:"live"`
	Symbols               []string `toml:"symbols"`
	DefaultSymbol         string   `toml:"default_symbol"`
	StopLimitOffsetPct    float64  `toml:"stop_limit_offset_pct"`
	DecisionEnabled       bool     `toml:"decision_enabled"`
	DecisionInterval      string   `toml:"decision_interval"`
	DecisionOffsetSeconds int      `toml:"decision_offset_seconds"`
	ProposalPath          string   `toml:"proposal_path"`
	ProposalDir           string   `toml:"proposal_dir"`
}

type AdmissionConfig struct {
	MinRiskReward      float64 `toml:"min_risk_reward"`
	FeeGateFailClosed  bool    `toml:"fee_gate_fail_closed"`
	FeeCacheTTLSeconds int     `toml:"fee_cache_ttl_seconds"`
}

func (a AdmissionConfig) FeeCacheTTL() time.Duration {
	return time.Duration(a.FeeCacheTTLSeconds) * time.Second
}

// ReconcileConfig 控制对账循环的节奏与回看窗口。
type ReconcileConfig struct {
	Enabled              bool `toml:"enabled"`
	IntervalSeconds      int  `toml:"interval_seconds"`
	StartupDelaySeconds  int  `toml:"startup_delay_seconds"`
	TickTimeoutSeconds   int  `toml:"tick_timeout_seconds"`
	PendingLookbackHours int  `toml:"pending_lookback_hours"`
	OCOLookbackHours     int  `toml:"oco_lookback_hours"`
	DedupWindowSeconds   int  `toml:"dedup_window_seconds"`
}

func (r ReconcileConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r ReconcileConfig) StartupDelay() time.Duration {
	return time.Duration(r.StartupDelaySeconds) * time.Second
}

func (r ReconcileConfig) TickTimeout() time.Duration {
	return time.Duration(r.TickTimeoutSeconds) * time.Second
}

func (r ReconcileConfig) PendingLookback() time.Duration {
	return time.Duration(r.PendingLookbackHours) * time.Hour
}

func (r ReconcileConfig) OCOLookback() time.Duration {
	return time.Duration(r.OCOLookbackHours) * time.Hour
}

func (r ReconcileConfig) DedupWindow() time.Duration {
	return time.Duration(r.DedupWindowSeconds) * time.Second
}

type StoreConfig struct {
	Path         string `toml:"path"`
	EventLogPath string `toml:"event_log_path"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
