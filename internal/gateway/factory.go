package gateway

import (
	"fmt"
	"strings"

	"papertrade/internal/config"
	"papertrade/internal/gateway/binance"
	"papertrade/internal/gateway/gate"
	"papertrade/internal/market"
)

// NewSourceFromConfig 根据 market.active_source 构造行情数据源。
func NewSourceFromConfig(cfg *config.Config) (market.Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	active := cfg.Market.ResolveActiveSource()
	switch strings.ToLower(strings.TrimSpace(active.Name)) {
	case "", "binance":
		return binance.New(binance.Config{
			RESTBaseURL:  active.RESTBaseURL,
			ProxyEnabled: active.Proxy.Enabled,
			RESTProxyURL: active.Proxy.RESTURL,
		})
	case "gate":
		return gate.New(gate.Config{
			RESTBaseURL:  active.RESTBaseURL,
			ProxyEnabled: active.Proxy.Enabled,
			RESTProxyURL: active.Proxy.RESTURL,
		})
	default:
		return nil, fmt.Errorf("未知数据源: %s", active.Name)
	}
}
