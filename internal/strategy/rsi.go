package strategy

import (
	"fmt"

	"papertrade/internal/types"
)

const NameRSI = "rsi"

// RSIParams 配置 RSI 周期与超买超卖阈值。
type RSIParams struct {
	Period     int     `mapstructure:"period" json:"period"`
	Overbought float64 `mapstructure:"overbought" json:"overbought"`
	Oversold   float64 `mapstructure:"oversold" json:"oversold"`
}

func (p *RSIParams) withDefaults() {
	if p.Period <= 0 {
		p.Period = 14
	}
	if p.Overbought <= 0 {
		p.Overbought = 70
	}
	if p.Oversold <= 0 {
		p.Oversold = 30
	}
}

// RSIStrategy 在 RSI 从超卖区向上脱离时买入,从超买区向下脱离时卖出。
type RSIStrategy struct {
	params RSIParams
}

func NewRSI(params RSIParams) *RSIStrategy {
	params.withDefaults()
	return &RSIStrategy{params: params}
}

func (s *RSIStrategy) Name() string { return NameRSI }

func (s *RSIStrategy) Params() RSIParams { return s.params }

func (s *RSIStrategy) WarmupPeriod() int { return s.params.Period }

func (s *RSIStrategy) CalculateIndicators(in Series) Series {
	out := in.Clone()
	out.SetColumn("rsi", rsiColumn(in.Closes(), s.params.Period))
	return out
}

func (s *RSIStrategy) GenerateSignals(data map[string]Series, positions map[string]*types.Position, index int) []types.Signal {
	var signals []types.Signal
	for _, sym := range sortedSymbols(data) {
		series := data[sym]
		if series.Len() < 2 {
			continue
		}
		i := series.cursorIndex(index)
		prev := series.At("rsi", i-1)
		last := series.At("rsi", i)
		if anyNaN(prev, last) {
			continue
		}
		holding := hasOpenPosition(positions, sym)
		price := series.Candles[i].Close
		switch {
		case prev < s.params.Oversold && last >= s.params.Oversold && !holding:
			signals = append(signals, types.Signal{
				Symbol: sym,
				Action: types.SignalBuy,
				Price:  price,
				Reason: fmt.Sprintf("RSI 脱离超卖区 (%.1f -> %.1f)", prev, last),
			})
		case prev > s.params.Overbought && last <= s.params.Overbought && holding:
			signals = append(signals, types.Signal{
				Symbol: sym,
				Action: types.SignalSell,
				Price:  price,
				Reason: fmt.Sprintf("RSI 脱离超买区 (%.1f -> %.1f)", prev, last),
			})
		}
	}
	return signals
}
