package strategy

import (
	"fmt"

	"papertrade/internal/types"
)

const NameCombined = "combined"

// CombinedParams 配置均线交叉与 RSI 过滤阈值。
type CombinedParams struct {
	EMAPeriod  int     `mapstructure:"ema_period" json:"ema_period"`
	SMAPeriod  int     `mapstructure:"sma_period" json:"sma_period"`
	RSIPeriod  int     `mapstructure:"rsi_period" json:"rsi_period"`
	Overbought float64 `mapstructure:"overbought" json:"overbought"`
	Oversold   float64 `mapstructure:"oversold" json:"oversold"`
}

func (p *CombinedParams) withDefaults() {
	if p.EMAPeriod <= 0 {
		p.EMAPeriod = 10
	}
	if p.SMAPeriod <= 0 {
		p.SMAPeriod = 20
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.Overbought <= 0 {
		p.Overbought = 70
	}
	if p.Oversold <= 0 {
		p.Oversold = 30
	}
}

// Combined 用 RSI 过滤均线交叉信号:
// 上穿且 RSI 未超买才买入,下穿且 RSI 未超卖才卖出。
type Combined struct {
	params CombinedParams
}

func NewCombined(params CombinedParams) *Combined {
	params.withDefaults()
	return &Combined{params: params}
}

func (s *Combined) Name() string { return NameCombined }

func (s *Combined) Params() CombinedParams { return s.params }

func (s *Combined) WarmupPeriod() int {
	max := s.params.EMAPeriod
	if s.params.SMAPeriod > max {
		max = s.params.SMAPeriod
	}
	if s.params.RSIPeriod > max {
		max = s.params.RSIPeriod
	}
	return max
}

func (s *Combined) CalculateIndicators(in Series) Series {
	out := in.Clone()
	closes := in.Closes()
	out.SetColumn("ema", emaColumn(closes, s.params.EMAPeriod))
	out.SetColumn("sma", smaColumn(closes, s.params.SMAPeriod))
	out.SetColumn("rsi", rsiColumn(closes, s.params.RSIPeriod))
	return out
}

func (s *Combined) GenerateSignals(data map[string]Series, positions map[string]*types.Position, index int) []types.Signal {
	var signals []types.Signal
	for _, sym := range sortedSymbols(data) {
		series := data[sym]
		if series.Len() < 2 {
			continue
		}
		i := series.cursorIndex(index)
		ema := series.Columns["ema"]
		sma := series.Columns["sma"]
		rsi := series.At("rsi", i)
		if anyNaN(rsi) {
			continue
		}
		holding := hasOpenPosition(positions, sym)
		price := series.Candles[i].Close
		switch {
		case crossUp(ema, sma, i) && rsi < s.params.Overbought && !holding:
			signals = append(signals, types.Signal{
				Symbol: sym,
				Action: types.SignalBuy,
				Price:  price,
				Reason: fmt.Sprintf("EMA%d 上穿 SMA%d 且 RSI=%.1f 未超买", s.params.EMAPeriod, s.params.SMAPeriod, rsi),
			})
		case crossDown(ema, sma, i) && rsi > s.params.Oversold && holding:
			signals = append(signals, types.Signal{
				Symbol: sym,
				Action: types.SignalSell,
				Price:  price,
				Reason: fmt.Sprintf("EMA%d 下穿 SMA%d 且 RSI=%.1f 未超卖", s.params.EMAPeriod, s.params.SMAPeriod, rsi),
			})
		}
	}
	return signals
}
