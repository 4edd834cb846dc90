package market

import "sort"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Closes 取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SortDedupe 按 OpenTime 升序排序并去重,同一 OpenTime 保留后到的记录。
func SortDedupe(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}
	byOpen := make(map[int64]Candle, len(candles))
	for _, c := range candles {
		byOpen[c.OpenTime] = c
	}
	out := make([]Candle, 0, len(byOpen))
	for _, c := range byOpen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}
