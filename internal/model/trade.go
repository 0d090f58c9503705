package model

// Direction labels which side of the pair the taker paid in.
const (
	DirectionXToY = "x_to_y"
	DirectionYToX = "y_to_x"
)

// TradeRecord is the normalized representation of one executed swap for
// storage and downstream consumption. Amounts are decimal strings so token
// quantities survive JSON without precision loss.
type TradeRecord struct {
	PairID     string `json:"pair_id"`
	Caller     string `json:"caller"`
	Direction  string `json:"direction"`
	AmountIn   string `json:"amount_in"`
	AmountOut  string `json:"amount_out"`
	FeeAmount  string `json:"fee_amount"`
	ParamSeq   uint64 `json:"param_seq"`
	ExecutedAt string `json:"executed_at"`
}
