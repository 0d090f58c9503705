package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fahimahmedx/prop-amm/internal/model"
)

// Store provides Postgres persistence for trade records and pair
// snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutTradeBatch appends executed trades. Trades are immutable facts, so
// this is insert-only.
func (s *Store) PutTradeBatch(trades []model.TradeRecord) error {
	return s.InsertTrades(context.Background(), trades)
}

// InsertTrades appends executed trades with an explicit context.
func (s *Store) InsertTrades(ctx context.Context, trades []model.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, trade := range trades {
		batch.Queue(`
			INSERT INTO trades (
				pair_id, caller, direction, amount_in, amount_out, fee_amount, param_seq, executed_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		`,
			trade.PairID,
			trade.Caller,
			trade.Direction,
			trade.AmountIn,
			trade.AmountOut,
			trade.FeeAmount,
			int64(trade.ParamSeq),
			trade.ExecutedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range trades {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPairSnapshots inserts or updates the latest state per pair.
func (s *Store) UpsertPairSnapshots(ctx context.Context, snapshots []model.PairSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(`
			INSERT INTO pairs (
				pair_id, token_x, token_y, x_decimals, y_decimals,
				x_retain_decimals, y_retain_decimals,
				reserve_x, reserve_y, target_x, locked, target_y_peak,
				fee_accrued_x, fee_accrued_y, pair_created_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now(),now())
			ON CONFLICT (pair_id)
			DO UPDATE SET
				reserve_x = EXCLUDED.reserve_x,
				reserve_y = EXCLUDED.reserve_y,
				target_x = EXCLUDED.target_x,
				locked = EXCLUDED.locked,
				target_y_peak = EXCLUDED.target_y_peak,
				fee_accrued_x = EXCLUDED.fee_accrued_x,
				fee_accrued_y = EXCLUDED.fee_accrued_y,
				updated_at = now()
		`,
			snap.PairID,
			snap.TokenX,
			snap.TokenY,
			int16(snap.XDecimals),
			int16(snap.YDecimals),
			int16(snap.XRetainDecimals),
			int16(snap.YRetainDecimals),
			snap.ReserveX,
			snap.ReserveY,
			snap.TargetX,
			snap.Locked,
			snap.TargetYPeak,
			snap.FeeAccruedX,
			snap.FeeAccruedY,
			snap.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
