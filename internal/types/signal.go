package types

type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
	SignalHold SignalAction = "hold"
)

// Signal 是策略对单个交易对给出的操作建议。
type Signal struct {
	Symbol string       `json:"symbol"`
	Action SignalAction `json:"action"`
	Price  float64      `json:"price"`
	Reason string       `json:"reason,omitempty"`
}
