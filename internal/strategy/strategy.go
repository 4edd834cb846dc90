package strategy

import (
	"fmt"
	"sort"
	"strings"

	"papertrade/internal/types"

	"github.com/mitchellh/mapstructure"
)

// Strategy 是交易策略的统一接口。
// CalculateIndicators 纯函数式地返回带指标列的新 Series;
// GenerateSignals 只读取 index 及之前的数据,index==-1 表示实盘模式。
type Strategy interface {
	Name() string

	// WarmupPeriod 返回策略需要的最大回看长度。
	WarmupPeriod() int

	CalculateIndicators(s Series) Series

	GenerateSignals(data map[string]Series, positions map[string]*types.Position, index int) []types.Signal
}

// New 按名称构建策略,params 来自配置或 API 请求体。
// 未知名称返回错误,由调用方映射为配置错误。
func New(name string, params map[string]any) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameEMASMACrossover:
		var p CrossoverParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewEMASMACrossover(p), nil
	case NameRSI:
		var p RSIParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewRSI(p), nil
	case NameCombined:
		var p CombinedParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewCombined(p), nil
	default:
		return nil, fmt.Errorf("未知策略: %s", name)
	}
}

// Names 返回全部可用策略名。
func Names() []string {
	return []string{NameEMASMACrossover, NameRSI, NameCombined}
}

func decodeParams(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("解析策略参数失败: %w", err)
	}
	return nil
}

// sortedSymbols 保证多交易对遍历顺序确定。
func sortedSymbols(data map[string]Series) []string {
	out := make([]string, 0, len(data))
	for sym := range data {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func hasOpenPosition(positions map[string]*types.Position, symbol string) bool {
	pos, ok := positions[symbol]
	return ok && pos != nil && pos.Status == types.PositionOpen
}
