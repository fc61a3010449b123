package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
)

const chainTxColumns = `hash,kind,question_id,amount_wei,state,COALESCE(reason,''),block_number,created_at,updated_at`

func scanChainTx(row rowScanner) (domain.ChainTx, error) {
	var ct domain.ChainTx
	var block sql.NullInt64
	err := row.Scan(&ct.Hash, &ct.Kind, &ct.QuestionID, &ct.AmountWei, &ct.State, &ct.Reason, &block, &ct.CreatedAt, &ct.UpdatedAt)
	if err == sql.ErrNoRows {
		return ct, ErrNotFound
	}
	if block.Valid {
		b := block.Int64
		ct.BlockNumber = &b
	}
	return ct, err
}

// InsertChainTx journals a transaction as soon as its hash is known.
func (r Repo) InsertChainTx(ctx context.Context, tx *sql.Tx, ct domain.ChainTx) error {
	if ct.Hash == "" {
		return errors.New("hash required")
	}
	if ct.State == "" {
		ct.State = domain.TxSubmitted
	}
	if ct.AmountWei == "" {
		ct.AmountWei = "0"
	}
	if ct.UpdatedAt == "" {
		ct.UpdatedAt = ct.CreatedAt
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO chain_txs(hash,kind,question_id,amount_wei,state,reason,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		ct.Hash, ct.Kind, ct.QuestionID, ct.AmountWei, ct.State, nullable(ct.Reason), ct.CreatedAt, ct.UpdatedAt)
	return err
}

func (r Repo) GetChainTx(ctx context.Context, hash string) (domain.ChainTx, error) {
	return r.GetChainTxTx(ctx, nil, hash)
}

func (r Repo) GetChainTxTx(ctx context.Context, tx *sql.Tx, hash string) (domain.ChainTx, error) {
	return scanChainTx(r.on(tx).QueryRowContext(ctx, `SELECT `+chainTxColumns+` FROM chain_txs WHERE hash=?`, hash))
}

// ResolveChainTx moves a submitted transaction to a terminal state. A
// transaction that is already terminal yields ErrConflict, which makes the
// follow-up idempotent per hash.
func (r Repo) ResolveChainTx(ctx context.Context, tx *sql.Tx, hash, state, reason string, block *int64, now string) error {
	var blockValue any
	if block != nil {
		blockValue = *block
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE chain_txs SET state=?, reason=?, block_number=?, updated_at=? WHERE hash=? AND state='submitted'`,
		state, nullable(reason), blockValue, now, hash)
	return expectOne(res, err)
}

// ListPendingChainTxs returns submitted transactions created at or before
// the cutoff, oldest first.
func (r Repo) ListPendingChainTxs(ctx context.Context, cutoff string, limit int) ([]domain.ChainTx, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+chainTxColumns+` FROM chain_txs WHERE state='submitted' AND created_at<=? ORDER BY created_at, hash LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChainTx
	for rows.Next() {
		ct, err := scanChainTx(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ct)
	}
	return res, rows.Err()
}

// ListChainTxs returns the journal for one question, newest first.
func (r Repo) ListChainTxs(ctx context.Context, questionID int64) ([]domain.ChainTx, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+chainTxColumns+` FROM chain_txs WHERE question_id=? ORDER BY created_at DESC, hash`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChainTx
	for rows.Next() {
		ct, err := scanChainTx(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ct)
	}
	return res, rows.Err()
}
