package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 path 指向的 YAML 配置并返回校验后的 Config。
// 文件可通过 include 引入其他文件:被包含文件先合并,主文件的键覆盖它们。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	if err := mergeFile(v, abs, nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	markKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeFile 把 path 及其 include 链合并进 v,被包含文件先于包含者合并。
// chain 是当前包含路径,用于检测循环引用。
func mergeFile(v *viper.Viper, path string, chain []string) error {
	path = filepath.Clean(path)
	for _, p := range chain {
		if p == path {
			return fmt.Errorf("include cycle detected: %s", path)
		}
	}
	raw := viper.New()
	raw.SetConfigFile(path)
	if err := raw.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	chain = append(chain, path)
	for _, inc := range raw.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := mergeFile(v, inc, chain); err != nil {
			return err
		}
	}
	settings := raw.AllSettings()
	delete(settings, "include")
	return v.MergeConfigMap(settings)
}

// markKeys 记录配置文件里显式出现过的键,applyDefaults 据此区分
// "显式写了零值" 和 "完全没写"。
func markKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, sub := range val {
			key := strings.ToLower(strings.TrimSpace(k))
			if key == "" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			markKeys(key, sub, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
