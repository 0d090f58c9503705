package telemetry

import (
	"sync"
	"time"

	"github.com/fahimahmedx/prop-amm/internal/model"
	"github.com/fahimahmedx/prop-amm/internal/storage"
)

// Recorder wraps another trade sink and maintains rolling volume windows
// per pair on the way through.
type Recorder struct {
	next   storage.TradeSink
	window time.Duration

	mu      sync.RWMutex
	current map[string]*Accumulator
	closed  map[string][]Summary
	keep    int
}

// NewRecorder builds a Recorder in front of next. Windows are aligned to
// the window duration; the most recent closed windows are kept per pair
// for the volume endpoint.
func NewRecorder(next storage.TradeSink, window time.Duration, keepClosed int) *Recorder {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if keepClosed <= 0 {
		keepClosed = 12
	}
	return &Recorder{
		next:    next,
		window:  window,
		current: make(map[string]*Accumulator),
		closed:  make(map[string][]Summary),
		keep:    keepClosed,
	}
}

// PutTradeBatch folds the trades into their windows and forwards the batch.
func (r *Recorder) PutTradeBatch(trades []model.TradeRecord) error {
	for _, trade := range trades {
		r.add(trade)
	}
	if r.next == nil {
		return nil
	}
	return r.next.PutTradeBatch(trades)
}

func (r *Recorder) add(trade model.TradeRecord) {
	executedAt, err := time.Parse(time.RFC3339, trade.ExecutedAt)
	if err != nil {
		executedAt = time.Now().UTC()
	}

	windowSecs := int64(r.window / time.Second)
	start := executedAt.Unix() / windowSecs * windowSecs
	end := start + windowSecs

	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.current[trade.PairID]
	if ok && acc.WindowStart != start {
		r.closed[trade.PairID] = appendBounded(r.closed[trade.PairID], acc.Summary(), r.keep)
		ok = false
	}
	if !ok {
		acc = NewAccumulator(trade.PairID, start, end)
		r.current[trade.PairID] = acc
	}

	// A malformed record cannot fail the swap that produced it; it is
	// dropped from telemetry only.
	_ = acc.AddTrade(trade, executedAt)
}

// Windows returns the closed windows plus the in-progress one for a pair,
// oldest first.
func (r *Recorder) Windows(pairID string) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.closed[pairID])+1)
	out = append(out, r.closed[pairID]...)
	if acc, ok := r.current[pairID]; ok {
		out = append(out, acc.Summary())
	}
	return out
}

func appendBounded(list []Summary, s Summary, keep int) []Summary {
	list = append(list, s)
	if len(list) > keep {
		list = list[len(list)-keep:]
	}
	return list
}

var _ storage.TradeSink = (*Recorder)(nil)
