package model

// PairSnapshot is a point-in-time view of a pair's state for persistence
// and display. Like TradeRecord, balances are decimal strings.
type PairSnapshot struct {
	PairID          string `json:"pair_id"`
	TokenX          string `json:"token_x"`
	TokenY          string `json:"token_y"`
	XDecimals       uint8  `json:"x_decimals"`
	YDecimals       uint8  `json:"y_decimals"`
	XRetainDecimals uint8  `json:"x_retain_decimals"`
	YRetainDecimals uint8  `json:"y_retain_decimals"`
	ReserveX        string `json:"reserve_x"`
	ReserveY        string `json:"reserve_y"`
	TargetX         string `json:"target_x"`
	Locked          bool   `json:"locked"`
	TargetYPeak     string `json:"target_y_peak"`
	FeeAccruedX     string `json:"fee_accrued_x"`
	FeeAccruedY     string `json:"fee_accrued_y"`
	CreatedAt       string `json:"created_at"`
}
