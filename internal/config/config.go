package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBindings 将敏感字段绑定到环境变量，环境变量优先于配置文件。
var envBindings = map[string]string{
	"exchange.api_key":          "SPOTPILOT_API_KEY",
	"exchange.api_secret":       "SPOTPILOT_API_SECRET",
	"exchange.rest_base_url":    "SPOTPILOT_REST_BASE_URL",
	"notify.telegram.bot_token": "SPOTPILOT_TELEGRAM_TOKEN",
	"notify.telegram.chat_id":   "SPOTPILOT_TELEGRAM_CHAT_ID",
}

const includeKey = "include"

// Load reads the YAML file at path. Files named in a top-level include list
// are merged first (depth first), so the including file wins. Environment
// bindings are overlaid, then defaults fill unset keys and the result is
// validated.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	layers, err := newIncludeWalker().walk(abs)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, layer := range layers {
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("merging config failed: %w", err)
		}
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding env %s failed: %w", env, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	flattenConfigKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeWalker reads every file once and returns their settings in merge
// order. active tracks the current include chain for cycle detection.
type includeWalker struct {
	done   map[string]bool
	active map[string]bool
	layers []map[string]any
}

func newIncludeWalker() *includeWalker {
	return &includeWalker{done: map[string]bool{}, active: map[string]bool{}}
}

func (w *includeWalker) walk(path string) ([]map[string]any, error) {
	if err := w.visit(filepath.Clean(path)); err != nil {
		return nil, err
	}
	return w.layers, nil
}

func (w *includeWalker) visit(path string) error {
	if w.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.done[path] {
		return nil
	}
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	settings := tmp.AllSettings()
	includes, err := includeList(settings[includeKey])
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	delete(settings, includeKey)

	w.active[path] = true
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(filepath.Clean(inc)); err != nil {
			return err
		}
	}
	delete(w.active, path)
	w.done[path] = true
	w.layers = append(w.layers, settings)
	return nil
}

// includeList 只接受字符串数组。
func includeList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if strs, isStrs := raw.([]string); isStrs {
			return trimNonEmpty(strs), nil
		}
		return nil, fmt.Errorf("include must be a string array")
	}
	strs := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		strs = append(strs, s)
	}
	return trimNonEmpty(strs), nil
}

func trimNonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// flattenConfigKeys marks every leaf path ("reconcile.enabled") present in
// the merged settings; lists and scalars are leaves.
func flattenConfigKeys(prefix string, node any, dest keySet) {
	children, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			dest.mark(prefix)
		}
		return
	}
	for k, child := range children {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		flattenConfigKeys(key, child, dest)
	}
}
