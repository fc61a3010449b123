package engine

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/engine/auth"
)

// FundBounty submits a payable top-up for the question's on-chain bounty
// and returns the transaction hash. Off-chain bounty fields are untouched;
// reads always take the bounty from the contract.
func (e Engine) FundBounty(ctx context.Context, p auth.Principal, questionID int64, amountWei string) (string, error) {
	q, err := e.getQuestion(ctx, questionID)
	if err != nil {
		return "", err
	}
	amount, err := parseWei("amount_wei", amountWei)
	if err != nil {
		return "", err
	}
	if amount.Sign() == 0 {
		return "", ValidationError{Field: "amount_wei", Message: "must be positive"}
	}
	switch {
	case q.TxFailedState():
		return "", InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "bounty is not backed on-chain"}
	case q.TxPending():
		return "", InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "bounty transaction is still pending"}
	case q.Status != domain.StatusOpen:
		return "", InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "only open questions can be funded"}
	}
	key, ok := chainKey(q)
	if !ok {
		return "", InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "bounty not backed on-chain"}
	}
	if e.Writer == nil {
		return "", errors.New("ledger writer not configured")
	}
	hash, err := e.Writer.Submit(ctx, chain.FundBounty(key, amount))
	if err != nil {
		e.publish(domain.LifecycleEvent{Kind: domain.EventTxFailed, QuestionID: questionID, Reason: failureReason(err)})
		return "", err
	}
	ct := domain.ChainTx{Hash: hash, Kind: domain.TxKindFund, QuestionID: questionID, AmountWei: amount.String(), CreatedAt: e.timestamp()}
	if err := e.recordSubmitted(ctx, chain.MethodFundBounty, hash, func(ctx context.Context) error {
		return e.Repo.InsertChainTx(ctx, nil, ct)
	}); err != nil {
		return hash, err
	}
	e.logger().Info("bounty top-up submitted", "question", questionID, "principal", p.ID, "amount_wei", amount.String(), "hash", hash)
	e.follow(hash)
	return hash, nil
}

// BindWallet stores the principal's funding address in checksum form.
func (e Engine) BindWallet(ctx context.Context, p auth.Principal, address string) (domain.Wallet, error) {
	if !chain.ValidAddress(address) {
		return domain.Wallet{}, ValidationError{Field: "address", Message: "must be a non-zero hex address"}
	}
	w := domain.Wallet{
		PrincipalID: p.ID,
		Address:     common.HexToAddress(address).Hex(),
		UpdatedAt:   e.timestamp(),
	}
	if err := e.Repo.UpsertWallet(ctx, nil, w); err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// ChainTxs returns the transaction journal of a question.
func (e Engine) ChainTxs(ctx context.Context, questionID int64) ([]domain.ChainTx, error) {
	if _, err := e.getQuestion(ctx, questionID); err != nil {
		return nil, err
	}
	return e.Repo.ListChainTxs(ctx, questionID)
}
