package market

import "context"

// Source 抽象K线数据来源。
// symbol 使用 "BTC/USDT" 形式,interval 使用 "1h" 等周期字符串。
// since 为毫秒时间戳,<=0 表示取最近的 limit 根。
type Source interface {
	Name() string

	FetchOHLCV(ctx context.Context, symbol, interval string, since int64, limit int) ([]Candle, error)
}
