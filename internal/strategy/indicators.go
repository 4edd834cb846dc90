package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// 指标列基于 go-talib 计算,预热期(talib 输出为 0 的前导段)统一置为 NaN,
// 信号逻辑据此跳过尚不可用的位置。

func emaColumn(closes []float64, period int) []float64 {
	return nanWarmup(talib.Ema(closes, period), period-1)
}

func smaColumn(closes []float64, period int) []float64 {
	return nanWarmup(talib.Sma(closes, period), period-1)
}

func rsiColumn(closes []float64, period int) []float64 {
	return nanWarmup(talib.Rsi(closes, period), period)
}

func nanWarmup(series []float64, warmup int) []float64 {
	if warmup < 0 {
		warmup = 0
	}
	out := make([]float64, len(series))
	copy(out, series)
	for i := 0; i < warmup && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// crossUp 判断列 a 在 i 处上穿列 b。
func crossUp(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	if anyNaN(a[i-1], a[i], b[i-1], b[i]) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// crossDown 判断列 a 在 i 处下穿列 b。
func crossDown(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	if anyNaN(a[i-1], a[i], b[i-1], b[i]) {
		return false
	}
	return a[i-1] >= b[i-1] && a[i] < b[i]
}
