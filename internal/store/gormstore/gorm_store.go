package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	storemodel "papertrade/internal/store/model"
	"papertrade/internal/types"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type orderModel = storemodel.OrderModel
type positionModel = storemodel.PositionModel
type snapshotModel = storemodel.SnapshotModel
type tradeRecordModel = storemodel.TradeRecordModel
type strategyChangeModel = storemodel.StrategyChangeModel

// timeLayout 时间列的文本格式,可无损往返
const timeLayout = time.RFC3339Nano

// Store implements trade persistence using Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

// New opens (and migrates) the trade database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	return open(dsn, 2)
}

// NewMemory 返回进程内独立的内存库,用于回测模拟。
func NewMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return open(dsn, 1)
}

func open(dsn string, maxConns int) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&orderModel{},
		&positionModel{},
		&snapshotModel{},
		&tradeRecordModel{},
		&strategyChangeModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------------- Orders ------------------------------------

func (s *Store) InsertOrder(ctx context.Context, order *types.Order) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if order == nil {
		return fmt.Errorf("order 不能为空")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	model := newOrderModel(*order)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	order.ID = model.ID
	return nil
}

func (s *Store) UpdateOrder(ctx context.Context, order types.Order) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if order.ID <= 0 {
		return fmt.Errorf("order id 必填")
	}
	payload := map[string]interface{}{
		"status":       string(order.Status),
		"filled_price": order.FilledPrice,
		"fee":          order.Fee,
	}
	if order.FilledAt != nil && !order.FilledAt.IsZero() {
		payload["filled_at"] = formatTime(*order.FilledAt)
	}
	res := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ?", order.ID).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, limit int) ([]types.Order, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []orderModel
	if err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(models))
	for _, m := range models {
		out = append(out, orderModelToRecord(m))
	}
	return out, nil
}

// PendingOrders 按创建顺序返回全部挂单。
func (s *Store) PendingOrders(ctx context.Context) ([]types.Order, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []orderModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(types.OrderPending)).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(models))
	for _, m := range models {
		out = append(out, orderModelToRecord(m))
	}
	return out, nil
}

// --------------------------- Positions ---------------------------------

func (s *Store) InsertPosition(ctx context.Context, pos *types.Position) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if pos == nil {
		return fmt.Errorf("position 不能为空")
	}
	if pos.EntryTime.IsZero() {
		pos.EntryTime = time.Now()
	}
	model := newPositionModel(*pos)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	pos.ID = model.ID
	return nil
}

func (s *Store) UpdatePosition(ctx context.Context, pos types.Position) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if pos.ID <= 0 {
		return fmt.Errorf("position id 必填")
	}
	payload := map[string]interface{}{
		"quantity":      pos.Quantity,
		"current_price": pos.CurrentPrice,
		"stop_loss":     pos.StopLoss,
		"take_profit":   pos.TakeProfit,
		"status":        string(pos.Status),
		"exit_price":    pos.ExitPrice,
		"pnl":           pos.PnL,
		"exit_order_id": pos.ExitOrderID,
	}
	if pos.ExitTime != nil && !pos.ExitTime.IsZero() {
		payload["exit_time"] = formatTime(*pos.ExitTime)
	}
	res := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ?", pos.ID).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// OpenPositions 返回全部未平仓持仓。
func (s *Store) OpenPositions(ctx context.Context) ([]types.Position, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []positionModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(types.PositionOpen)).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(models))
	for _, m := range models {
		out = append(out, positionModelToRecord(m))
	}
	return out, nil
}

// --------------------------- Trades ------------------------------------

func (s *Store) InsertTradeRecord(ctx context.Context, rec *types.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if rec == nil {
		return fmt.Errorf("trade record 不能为空")
	}
	if rec.ExitTime.IsZero() {
		rec.ExitTime = time.Now()
	}
	model := newTradeRecordModel(*rec)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	rec.ID = model.ID
	return nil
}

func (s *Store) ListTrades(ctx context.Context, symbol string, limit int) ([]types.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&tradeRecordModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("UPPER(symbol) = ?", sym)
	}
	var models []tradeRecordModel
	if err := query.
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeRecordModelToRecord(m))
	}
	return out, nil
}

// AllTrades 按平仓顺序返回全部往返记录,不截断,供回测汇总使用。
func (s *Store) AllTrades(ctx context.Context) ([]types.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []tradeRecordModel
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeRecordModelToRecord(m))
	}
	return out, nil
}

// --------------------------- Snapshots ----------------------------------

func (s *Store) InsertSnapshot(ctx context.Context, snap *types.PortfolioSnapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if snap == nil {
		return fmt.Errorf("snapshot 不能为空")
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	model := snapshotModel{
		Timestamp:      formatTime(snap.Timestamp),
		TotalValue:     snap.TotalValue,
		Cash:           snap.Cash,
		PositionsValue: snap.PositionsValue,
		TotalPnL:       snap.TotalPnL,
		TotalPnLPct:    snap.TotalPnLPct,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	snap.ID = model.ID
	return nil
}

// ListSnapshots 按时间升序返回最近 limit 条权益快照。
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]types.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var models []snapshotModel
	if err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PortfolioSnapshot, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		m := models[i]
		out = append(out, types.PortfolioSnapshot{
			ID:             m.ID,
			Timestamp:      parseTime(m.Timestamp),
			TotalValue:     m.TotalValue,
			Cash:           m.Cash,
			PositionsValue: m.PositionsValue,
			TotalPnL:       m.TotalPnL,
			TotalPnLPct:    m.TotalPnLPct,
		})
	}
	return out, nil
}

// --------------------------- Performance ---------------------------------

// PerformanceStats 汇总已实现交易的统计指标。
type PerformanceStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	TotalFees     float64 `json:"total_fees"`
}

// Performance 用单条聚合 SQL 计算往返交易统计,每行即一次已平仓交易。
func (s *Store) Performance(ctx context.Context) (PerformanceStats, error) {
	if s == nil || s.db == nil {
		return PerformanceStats{}, fmt.Errorf("gorm store 未初始化")
	}
	var row struct {
		TotalTrades   int
		WinningTrades int
		LosingTrades  int
		TotalPnL      float64
		AvgPnL        float64
		BestTrade     float64
		WorstTrade    float64
		TotalFees     float64
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*)                                    AS total_trades,
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0) AS winning_trades,
			COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0) AS losing_trades,
			COALESCE(SUM(pnl), 0)                       AS total_pn_l,
			COALESCE(AVG(pnl), 0)                       AS avg_pn_l,
			COALESCE(MAX(pnl), 0)                       AS best_trade,
			COALESCE(MIN(pnl), 0)                       AS worst_trade,
			COALESCE(SUM(fees), 0)                      AS total_fees
		FROM trade_records`).Scan(&row).Error
	if err != nil {
		return PerformanceStats{}, err
	}
	stats := PerformanceStats{
		TotalTrades:   row.TotalTrades,
		WinningTrades: row.WinningTrades,
		LosingTrades:  row.LosingTrades,
		TotalPnL:      row.TotalPnL,
		AvgPnL:        row.AvgPnL,
		BestTrade:     row.BestTrade,
		WorstTrade:    row.WorstTrade,
		TotalFees:     row.TotalFees,
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
	}
	return stats, nil
}

// --------------------------- Strategy changes ----------------------------

// StrategyChange 是一次策略切换的审计记录。
type StrategyChange struct {
	ID        int64          `json:"id"`
	OldName   string         `json:"old_name"`
	NewName   string         `json:"new_name"`
	Params    map[string]any `json:"params,omitempty"`
	Source    string         `json:"source,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (s *Store) InsertStrategyChange(ctx context.Context, change StrategyChange) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}
	paramsBytes, _ := json.Marshal(change.Params)
	if len(paramsBytes) == 0 || string(paramsBytes) == "null" {
		paramsBytes = []byte("{}")
	}
	model := strategyChangeModel{
		OldName:    strings.TrimSpace(change.OldName),
		NewName:    strings.TrimSpace(change.NewName),
		ParamsJSON: datatypes.JSON(paramsBytes),
		Source:     strings.TrimSpace(change.Source),
		CreatedAt:  formatTime(change.CreatedAt),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *Store) ListStrategyChanges(ctx context.Context, limit int) ([]StrategyChange, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var models []strategyChangeModel
	if err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]StrategyChange, 0, len(models))
	for _, m := range models {
		var params map[string]any
		if len(m.ParamsJSON) > 0 {
			_ = json.Unmarshal(m.ParamsJSON, &params)
		}
		out = append(out, StrategyChange{
			ID:        m.ID,
			OldName:   m.OldName,
			NewName:   m.NewName,
			Params:    params,
			Source:    m.Source,
			CreatedAt: parseTime(m.CreatedAt),
		})
	}
	return out, nil
}

// --------------------------- Model Helpers ------------------------------

func newOrderModel(order types.Order) orderModel {
	m := orderModel{
		ID:           order.ID,
		Symbol:       strings.ToUpper(strings.TrimSpace(order.Symbol)),
		Type:         string(order.Type),
		Side:         string(order.Side),
		Quantity:     order.Quantity,
		Price:        order.Price,
		Status:       string(order.Status),
		CreatedAt:    formatTime(order.CreatedAt),
		FilledPrice:  order.FilledPrice,
		Fee:          order.Fee,
		StrategyName: strings.TrimSpace(order.StrategyName),
	}
	if order.FilledAt != nil && !order.FilledAt.IsZero() {
		val := formatTime(*order.FilledAt)
		m.FilledAt = &val
	}
	return m
}

func orderModelToRecord(m orderModel) types.Order {
	order := types.Order{
		ID:           m.ID,
		Symbol:       m.Symbol,
		Type:         types.OrderType(m.Type),
		Side:         types.OrderSide(m.Side),
		Quantity:     m.Quantity,
		Price:        m.Price,
		Status:       types.OrderStatus(m.Status),
		CreatedAt:    parseTime(m.CreatedAt),
		FilledPrice:  m.FilledPrice,
		Fee:          m.Fee,
		StrategyName: m.StrategyName,
	}
	if m.FilledAt != nil && *m.FilledAt != "" {
		ts := parseTime(*m.FilledAt)
		order.FilledAt = &ts
	}
	return order
}

func newPositionModel(pos types.Position) positionModel {
	m := positionModel{
		ID:           pos.ID,
		Symbol:       strings.ToUpper(strings.TrimSpace(pos.Symbol)),
		Quantity:     pos.Quantity,
		EntryPrice:   pos.EntryPrice,
		EntryTime:    formatTime(pos.EntryTime),
		CurrentPrice: pos.CurrentPrice,
		StopLoss:     pos.StopLoss,
		TakeProfit:   pos.TakeProfit,
		Status:       string(pos.Status),
		ExitPrice:    pos.ExitPrice,
		PnL:          pos.PnL,
		EntryOrderID: pos.EntryOrderID,
		ExitOrderID:  pos.ExitOrderID,
	}
	if pos.ExitTime != nil && !pos.ExitTime.IsZero() {
		val := formatTime(*pos.ExitTime)
		m.ExitTime = &val
	}
	return m
}

func positionModelToRecord(m positionModel) types.Position {
	pos := types.Position{
		ID:           m.ID,
		Symbol:       m.Symbol,
		Quantity:     m.Quantity,
		EntryPrice:   m.EntryPrice,
		EntryTime:    parseTime(m.EntryTime),
		CurrentPrice: m.CurrentPrice,
		StopLoss:     m.StopLoss,
		TakeProfit:   m.TakeProfit,
		Status:       types.PositionStatus(m.Status),
		ExitPrice:    m.ExitPrice,
		PnL:          m.PnL,
		EntryOrderID: m.EntryOrderID,
		ExitOrderID:  m.ExitOrderID,
	}
	if m.ExitTime != nil && *m.ExitTime != "" {
		ts := parseTime(*m.ExitTime)
		pos.ExitTime = &ts
	}
	return pos
}

func newTradeRecordModel(rec types.TradeRecord) tradeRecordModel {
	return tradeRecordModel{
		ID:              rec.ID,
		Symbol:          strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:            string(rec.Side),
		Quantity:        rec.Quantity,
		EntryPrice:      rec.EntryPrice,
		ExitPrice:       rec.ExitPrice,
		EntryTime:       formatTime(rec.EntryTime),
		ExitTime:        formatTime(rec.ExitTime),
		PnL:             rec.PnL,
		PnLPct:          rec.PnLPct,
		Fees:            rec.Fees,
		Strategy:        strings.TrimSpace(rec.Strategy),
		DurationMinutes: rec.DurationMinutes,
	}
}

func tradeRecordModelToRecord(m tradeRecordModel) types.TradeRecord {
	return types.TradeRecord{
		ID:              m.ID,
		Symbol:          m.Symbol,
		Side:            types.OrderSide(m.Side),
		Quantity:        m.Quantity,
		EntryPrice:      m.EntryPrice,
		ExitPrice:       m.ExitPrice,
		EntryTime:       parseTime(m.EntryTime),
		ExitTime:        parseTime(m.ExitTime),
		PnL:             m.PnL,
		PnLPct:          m.PnLPct,
		Fees:            m.Fees,
		Strategy:        m.Strategy,
		DurationMinutes: m.DurationMinutes,
	}
}

// --------------------------- Helper Functions ----------------------------

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
