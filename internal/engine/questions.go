package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/content"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/engine/auth"
	"github.com/fiskasyela/braintheria-backend/internal/repo"
)

// QuestionCreateOptions are parameters for creating a question. BountyWei
// is a decimal wei amount; empty means no bounty.
type QuestionCreateOptions struct {
	Title     string
	BodyMD    string
	Files     []string
	BountyWei string
}

// CreateQuestion pins and stores a question, then submits the ask
// transaction when a bounty is requested. When that submission fails the
// stored question is returned together with the *chain.TransactionFailedError.
func (e Engine) CreateQuestion(ctx context.Context, p auth.Principal, opts QuestionCreateOptions) (domain.Question, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Question{}, ValidationError{Field: "title", Message: "is required"}
	}
	if strings.TrimSpace(opts.BodyMD) == "" {
		return domain.Question{}, ValidationError{Field: "body_md", Message: "is required"}
	}
	bounty, err := parseWei("bounty_wei", opts.BountyWei)
	if err != nil {
		return domain.Question{}, err
	}
	if bounty.Sign() > 0 {
		if !p.HasFundingAddress() {
			return domain.Question{}, ValidationError{Field: "bounty_wei", Message: "requires a funding address"}
		}
		if e.Reader == nil || e.Writer == nil {
			return domain.Question{}, errors.New("ledger not configured")
		}
		balance, ok := e.Reader.BalanceOf(ctx, p.FundingAddress)
		if !ok || balance.Cmp(bounty) < 0 {
			return domain.Question{}, InsufficientFundsError{
				Address:   p.FundingAddress,
				Required:  bounty.String(),
				Available: balance.String(),
				Degraded:  !ok,
			}
		}
	}

	files := opts.Files
	if files == nil {
		files = []string{}
	}
	pinned, err := e.Content.Pin(ctx, content.QuestionPayload{Title: title, BodyMD: opts.BodyMD, Files: files})
	if err != nil {
		return domain.Question{}, err
	}

	now := e.timestamp()
	q := domain.Question{
		AuthorID:           p.ID,
		AuthorAddress:      p.FundingAddress,
		Title:              title,
		BodyMD:             opts.BodyMD,
		ContentCID:         pinned.CID,
		ContentHash:        content.Hash(opts.BodyMD),
		Status:             domain.StatusOpen,
		BountyRequestedWei: bounty.String(),
		TxState:            domain.TxNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Question{}, err
	}
	defer tx.Rollback()
	if q.ID, err = e.Repo.InsertQuestion(ctx, tx, q); err != nil {
		return domain.Question{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Question{}, err
	}
	e.publish(domain.LifecycleEvent{Kind: domain.EventQuestionCreated, QuestionID: q.ID})

	if bounty.Sign() == 0 {
		return q, nil
	}
	return e.submitAsk(ctx, q, bounty.String())
}

func (e Engine) submitAsk(ctx context.Context, q domain.Question, bounty string) (domain.Question, error) {
	amount, _ := parseWei("bounty_wei", bounty)
	hash, submitErr := e.Writer.Submit(ctx, chain.AskQuestion(q.AuthorAddress, q.Title, amount))
	// The record must reflect the outcome even if the caller has gone away.
	reqCtx := ctx
	ctx = context.WithoutCancel(ctx)
	now := e.timestamp()
	if submitErr != nil {
		reason := failureReason(submitErr)
		if err := e.Repo.MarkAskFailed(ctx, nil, q.ID, reason, now); err != nil {
			return q, err
		}
		q.TxState, q.TxError, q.UpdatedAt = domain.TxFailed, reason, now
		e.publish(domain.LifecycleEvent{Kind: domain.EventTxFailed, QuestionID: q.ID, Reason: reason})
		return q, submitErr
	}

	err := e.recordSubmitted(ctx, chain.MethodAskQuestion, hash, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.SetAskTx(ctx, tx, q.ID, hash, now); err != nil {
			return err
		}
		if err := e.Repo.InsertChainTx(ctx, tx, domain.ChainTx{
			Hash: hash, Kind: domain.TxKindAsk, QuestionID: q.ID, AmountWei: bounty, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		q.TxHash, q.TxError = &hash, failureReason(err)
		return q, err
	}
	q.TxHash, q.TxState, q.UpdatedAt = &hash, domain.TxSubmitted, now

	if !e.config().Lifecycle.WaitForChainID {
		e.follow(hash)
		return q, nil
	}
	waitCtx, cancel := context.WithTimeout(reqCtx, e.config().Chain.ConfirmTimeout)
	defer cancel()
	_, waitErr := e.confirm(waitCtx, hash)
	var failed *chain.TransactionFailedError
	if waitErr != nil && !errors.As(waitErr, &failed) {
		e.logger().Warn("confirmation wait abandoned", "hash", hash, "question", q.ID, "error", waitErr)
		e.follow(hash)
		return q, nil
	}
	current, err := e.Repo.GetQuestion(ctx, q.ID)
	if err != nil {
		return q, err
	}
	return current, waitErr
}

// QuestionUpdateOptions carries the fields to rewrite; nil leaves a field
// unchanged.
type QuestionUpdateOptions struct {
	Title  *string
	BodyMD *string
	Files  []string
}

// UpdateQuestion lets the author edit an Open question. The content is
// re-pinned and the hash recomputed.
func (e Engine) UpdateQuestion(ctx context.Context, p auth.Principal, id int64, opts QuestionUpdateOptions) (domain.Question, error) {
	q, err := e.getQuestion(ctx, id)
	if err != nil {
		return q, err
	}
	if q.AuthorID != p.ID {
		return q, auth.ForbiddenError{Action: "edit question " + formatID(id)}
	}
	if q.Status != domain.StatusOpen {
		return q, InvalidStateError{QuestionID: id, Status: q.Status, Reason: "only open questions can be edited"}
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return q, ValidationError{Field: "title", Message: "must not be blank"}
		}
		q.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.BodyMD != nil {
		if strings.TrimSpace(*opts.BodyMD) == "" {
			return q, ValidationError{Field: "body_md", Message: "must not be blank"}
		}
		q.BodyMD = *opts.BodyMD
	}
	files := opts.Files
	if files == nil {
		files = []string{}
	}
	pinned, err := e.Content.Pin(ctx, content.QuestionPayload{Title: q.Title, BodyMD: q.BodyMD, Files: files})
	if err != nil {
		return q, err
	}
	q.ContentCID = pinned.CID
	q.ContentHash = content.Hash(q.BodyMD)
	q.UpdatedAt = e.timestamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateQuestionContent(ctx, tx, q); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			current, _ := e.Repo.GetQuestion(ctx, id)
			return q, InvalidStateError{QuestionID: id, Status: current.Status, Reason: "question changed state during edit"}
		}
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	e.publish(domain.LifecycleEvent{Kind: domain.EventQuestionUpdated, QuestionID: id})
	return q, nil
}

func (e Engine) getQuestion(ctx context.Context, id int64) (domain.Question, error) {
	q, err := e.Repo.GetQuestion(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return q, NotFoundError{Kind: "question", ID: id}
	}
	return q, err
}
