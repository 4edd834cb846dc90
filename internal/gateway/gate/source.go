package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"papertrade/internal/market"
	symbolpkg "papertrade/internal/pkg/symbol"
	"papertrade/internal/scheduler"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
)

const maxCandleLimit = 1000

// Source 基于 gateapi SDK 的现货K线实现 market.Source。
type Source struct {
	cfg  Config
	rest *gateapi.APIClient
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	rest, err := newRESTClient(final)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: final, rest: rest}, nil
}

func newRESTClient(cfg Config) (*gateapi.APIClient, error) {
	conf := gateapi.NewConfiguration()
	conf.BasePath = cfg.RESTBaseURL
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyEnabled && cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(cfg.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid gate REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	conf.HTTPClient = httpClient
	return gateapi.NewAPIClient(conf), nil
}

func (s *Source) Name() string { return "gate" }

// FetchOHLCV 拉取一页现货K线。since 为毫秒时间戳,<=0 时取最近 limit 根。
// Gate 行以字符串数组返回: [t, 成交额, close, high, low, open, 成交量, 是否收盘]。
func (s *Source) FetchOHLCV(ctx context.Context, symbol, interval string, since int64, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxCandleLimit {
		limit = maxCandleLimit
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	// Gate 交易对使用下划线形式,如 BTC_USDT
	pair := symbolpkg.Gate.ToExchange(symbol)

	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	opts := &gateapi.ListCandlesticksOpts{
		Limit:    optional.NewInt32(int32(limit)),
		Interval: optional.NewString(interval),
	}
	if since > 0 {
		opts.From = optional.NewInt64(since / 1000)
	}

	rows, _, err := s.rest.SpotApi.ListCandlesticks(ctx, pair, opts)
	if err != nil {
		return nil, err
	}

	dur, hasDur := scheduler.ParseIntervalDuration(interval)
	out := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		c, ok := parseCandleRow(row, dur)
		if !ok {
			continue
		}
		out = append(out, c)
	}
	if hasDur {
		out = scheduler.DropUnclosedKline(out, dur)
	}
	return out, nil
}

func parseCandleRow(row []string, interval time.Duration) (market.Candle, bool) {
	if len(row) < 6 {
		return market.Candle{}, false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil || sec <= 0 {
		return market.Candle{}, false
	}
	openTime := sec * 1000
	c := market.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + interval.Milliseconds() - 1,
		Close:     parseFloat(row[2]),
		High:      parseFloat(row[3]),
		Low:       parseFloat(row[4]),
		Open:      parseFloat(row[5]),
	}
	if len(row) > 6 {
		c.Volume = parseFloat(row[6])
	}
	// 第 8 列标记窗口是否已收盘,未收盘的直接丢弃。
	if len(row) > 7 && strings.EqualFold(strings.TrimSpace(row[7]), "false") {
		return market.Candle{}, false
	}
	return c, true
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

var _ market.Source = (*Source)(nil)
