package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
)

// UpsertWallet binds a funding address to a principal, replacing any
// previous binding.
func (r Repo) UpsertWallet(ctx context.Context, tx *sql.Tx, w domain.Wallet) error {
	if strings.TrimSpace(w.PrincipalID) == "" {
		return errors.New("principal_id required")
	}
	if strings.TrimSpace(w.Address) == "" {
		return errors.New("address required")
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO wallets(principal_id,address,updated_at) VALUES (?,?,?)
ON CONFLICT(principal_id) DO UPDATE SET address=excluded.address, updated_at=excluded.updated_at`,
		w.PrincipalID, w.Address, w.UpdatedAt)
	return err
}

// GetWallet returns the funding address bound to a principal.
func (r Repo) GetWallet(ctx context.Context, principalID string) (domain.Wallet, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT principal_id,address,updated_at FROM wallets WHERE principal_id=?`, principalID)
	var w domain.Wallet
	err := row.Scan(&w.PrincipalID, &w.Address, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Wallet{}, ErrNotFound
	}
	if err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}
