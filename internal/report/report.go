package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	echartstypes "github.com/go-echarts/go-echarts/v2/types"

	"papertrade/internal/backtest"
	"papertrade/internal/logger"
	"papertrade/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"

	chartWidthPx  = 1400
	chartHeightPx = 480
)

// Writer 把完成的回测渲染成静态 HTML 报表。
type Writer struct {
	dir string
}

func NewWriter(dir string) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("report: dir 不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建报表目录失败: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// WriteRunReport 渲染权益曲线与各交易对 K 线,返回生成的文件路径。
func (w *Writer) WriteRunReport(result backtest.Result, data map[string][]market.Candle) (string, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s 回测报告", result.Strategy)

	page.AddCharts(buildEquityChart(result))
	for _, sym := range sortedKeys(data) {
		candles := data[sym]
		if len(candles) == 0 {
			continue
		}
		page.AddCharts(buildKlineChart(sym, result.Timeframe, candles))
	}

	name := fmt.Sprintf("%s_%s.html", sanitizeName(result.Strategy), time.Now().Format("20060102_150405"))
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建报表文件失败: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", fmt.Errorf("渲染报表失败: %w", err)
	}
	logger.Infof("[report] 报表已生成: %s", path)
	return path, nil
}

func buildEquityChart(result backtest.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           echartstypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("权益曲线 | %s", result.Strategy),
			Subtitle: fmt.Sprintf("收益 %.2f%% | 胜率 %.1f%% | 最大回撤 %.2f%% | 交易 %d 笔",
				result.TotalReturnPct, result.WinRatePct, result.MaxDrawdownPct, result.TradeCount),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)

	x := make([]string, len(result.EquityCurve))
	values := make([]opts.LineData, len(result.EquityCurve))
	for i, pt := range result.EquityCurve {
		x[i] = time.UnixMilli(pt.Timestamp).UTC().Format("01-02 15:04")
		values[i] = opts.LineData{Value: round(pt.Value, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", values,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildKlineChart(symbol, timeframe string, candles []market.Candle) *charts.Kline {
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           echartstypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s %s", strings.ToUpper(symbol), timeframe),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	x := make([]string, len(candles))
	data := make([]opts.KlineData, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.OpenTime).UTC().Format("01-02 15:04")
		data[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	kline.SetXAxis(x)
	kline.AddSeries("Price", data)
	return kline
}

func sortedKeys(data map[string][]market.Candle) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeName(name string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(strings.ToLower(name))
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
