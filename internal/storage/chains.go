package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"triarb/pkg/types"
)

// Chains writes evaluated arbitrage chains to the arbitrage_chains table.
type Chains struct {
	db *sql.DB
}

// NewChains creates the chains repository.
func NewChains(db *sql.DB) *Chains {
	return &Chains{db: db}
}

const putChainQuery = `
	INSERT INTO arbitrage_chains (uid, hash8, initial_coin, roi, profit, profit_usd, time_ms, comment, steps)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (uid) DO UPDATE SET
		comment = CASE WHEN EXCLUDED.comment <> '' THEN EXCLUDED.comment ELSE arbitrage_chains.comment END`

// Put stores one chain. The uid (markets + observation time) makes replays
// idempotent; a later write may add an annotation but never erases one.
func (r *Chains) Put(ctx context.Context, c *types.Chain) error {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = r.db.ExecContext(ctx, putChainQuery,
		c.UID(), c.Hash8(), c.InitialCoin, c.ROI, c.Profit, c.ProfitUsd, c.TimeMs, c.Comment, steps)
	return err
}

// PutBatch stores a batch of chains in one transaction.
func (r *Chains) PutBatch(ctx context.Context, chains []*types.Chain) error {
	if len(chains) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, putChainQuery)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chains {
		steps, err := json.Marshal(c.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.UID(), c.Hash8(), c.InitialCoin, c.ROI, c.Profit, c.ProfitUsd, c.TimeMs, c.Comment, steps); err != nil {
			return err
		}
	}
	return tx.Commit()
}
