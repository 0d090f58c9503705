package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fahimahmedx/prop-amm/internal/model"
)

// JsonlStorage appends trade records to a JSONL file, one record per line.
// It is the zero-infrastructure sink for local runs and tests.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutTradeBatch appends a batch of trade records as JSON lines.
func (s *JsonlStorage) PutTradeBatch(trades []model.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, trade := range trades {
		line, err := json.Marshal(trade)
		if err != nil {
			return fmt.Errorf("marshal trade record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write trade record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

var _ TradeSink = (*JsonlStorage)(nil)
