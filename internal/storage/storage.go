package storage

import "github.com/fahimahmedx/prop-amm/internal/model"

// TradeSink receives executed trade records.
type TradeSink interface {
	PutTradeBatch(trades []model.TradeRecord) error
}
