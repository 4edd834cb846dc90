package strategy

import (
	"fmt"

	"papertrade/internal/types"
)

const NameEMASMACrossover = "ema_sma_crossover"

// CrossoverParams 配置 EMA/SMA 周期。
type CrossoverParams struct {
	EMAPeriod int `mapstructure:"ema_period" json:"ema_period"`
	SMAPeriod int `mapstructure:"sma_period" json:"sma_period"`
}

func (p *CrossoverParams) withDefaults() {
	if p.EMAPeriod <= 0 {
		p.EMAPeriod = 10
	}
	if p.SMAPeriod <= 0 {
		p.SMAPeriod = 20
	}
}

// EMASMACrossover 在 EMA 上穿 SMA 时买入,下穿时卖出。
type EMASMACrossover struct {
	params CrossoverParams
}

func NewEMASMACrossover(params CrossoverParams) *EMASMACrossover {
	params.withDefaults()
	return &EMASMACrossover{params: params}
}

func (s *EMASMACrossover) Name() string { return NameEMASMACrossover }

func (s *EMASMACrossover) Params() CrossoverParams { return s.params }

func (s *EMASMACrossover) WarmupPeriod() int {
	if s.params.EMAPeriod > s.params.SMAPeriod {
		return s.params.EMAPeriod
	}
	return s.params.SMAPeriod
}

func (s *EMASMACrossover) CalculateIndicators(in Series) Series {
	out := in.Clone()
	closes := in.Closes()
	out.SetColumn("ema", emaColumn(closes, s.params.EMAPeriod))
	out.SetColumn("sma", smaColumn(closes, s.params.SMAPeriod))
	return out
}

func (s *EMASMACrossover) GenerateSignals(data map[string]Series, positions map[string]*types.Position, index int) []types.Signal {
	var signals []types.Signal
	for _, sym := range sortedSymbols(data) {
		series := data[sym]
		if series.Len() < 2 {
			continue
		}
		i := series.cursorIndex(index)
		ema := series.Columns["ema"]
		sma := series.Columns["sma"]
		holding := hasOpenPosition(positions, sym)
		price := series.Candles[i].Close
		switch {
		case crossUp(ema, sma, i) && !holding:
			signals = append(signals, types.Signal{
				Symbol: sym,
				Action: types.SignalBuy,
				Price:  price,
				Reason: fmt.Sprintf("EMA%d 上穿 SMA%d", s.params.EMAPeriod, s.params.SMAPeriod),
			})
		case crossDown(ema, sma, i) && holding:
			signals = append(signals, types.Signal{
				Symbol: sym,
				Action: types.SignalSell,
				Price:  price,
				Reason: fmt.Sprintf("EMA%d 下穿 SMA%d", s.params.EMAPeriod, s.params.SMAPeriod),
			})
		}
	}
	return signals
}
