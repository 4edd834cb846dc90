package strategy

import (
	"math"

	"papertrade/internal/market"
)

// Series 是带指标列的K线序列。指标列与K线等长,NaN 表示预热期。
type Series struct {
	Candles []market.Candle
	Columns map[string][]float64
}

func NewSeries(candles []market.Candle) Series {
	return Series{Candles: candles, Columns: make(map[string][]float64)}
}

func (s Series) Len() int { return len(s.Candles) }

// Clone 返回候选写入用的浅拷贝,列表本身复制,K线共享。
func (s Series) Clone() Series {
	out := Series{Candles: s.Candles, Columns: make(map[string][]float64, len(s.Columns))}
	for k, v := range s.Columns {
		out.Columns[k] = v
	}
	return out
}

// SetColumn 写入一个指标列,长度必须与K线一致。
func (s Series) SetColumn(name string, values []float64) {
	if len(values) != len(s.Candles) {
		return
	}
	s.Columns[name] = values
}

// At 读取指标列 i 处的值,缺列或越界返回 NaN。
func (s Series) At(name string, i int) float64 {
	col, ok := s.Columns[name]
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// Closes 取收盘价序列。
func (s Series) Closes() []float64 {
	return market.Closes(s.Candles)
}

// cursorIndex 把外部传入的 index 归一成序列内的游标。
// index==-1 表示实盘模式,使用最后一根已完成K线。
func (s Series) cursorIndex(index int) int {
	if index < 0 {
		return s.Len() - 1
	}
	if index >= s.Len() {
		return s.Len() - 1
	}
	return index
}
