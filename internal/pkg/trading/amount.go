// Package trading provides trading calculation utilities.
package trading

import "github.com/shopspring/decimal"

// 数量精度,与主流交易所现货最小步进一致
const quantityPlaces = 6

// TruncQuantity 将数量向下截断到 6 位小数,避免浮点误差导致超出预算。
func TruncQuantity(qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(qty).Truncate(quantityPlaces).Float64()
	return f
}

// PositionQuantity computes the buy quantity for a market order.
// budget = min(totalValue*maxPositionPct, cash), spent as quantity*price*(1+feeRate).
func PositionQuantity(totalValue, cash, price, maxPositionPct, feeRate float64) float64 {
	if price <= 0 || cash <= 0 || maxPositionPct <= 0 {
		return 0
	}
	budget := totalValue * maxPositionPct
	if budget > cash {
		budget = cash
	}
	if budget <= 0 {
		return 0
	}
	qty := budget / (price * (1 + feeRate))
	return TruncQuantity(qty)
}
