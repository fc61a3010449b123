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

type AnswerCreateOptions struct {
	BodyMD string
	Files  []string
}

// CreateAnswer pins and stores an answer to an Open question.
func (e Engine) CreateAnswer(ctx context.Context, p auth.Principal, questionID int64, opts AnswerCreateOptions) (domain.Answer, error) {
	if strings.TrimSpace(opts.BodyMD) == "" {
		return domain.Answer{}, ValidationError{Field: "body_md", Message: "is required"}
	}
	q, err := e.getQuestion(ctx, questionID)
	if err != nil {
		return domain.Answer{}, err
	}
	if q.AuthorID == p.ID {
		return domain.Answer{}, SelfAnswerError{QuestionID: questionID}
	}
	if q.Status != domain.StatusOpen {
		return domain.Answer{}, InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "only open questions accept answers"}
	}
	files := opts.Files
	if files == nil {
		files = []string{}
	}
	pinned, err := e.Content.Pin(ctx, content.AnswerPayload{QuestionID: questionID, BodyMD: opts.BodyMD, Files: files})
	if err != nil {
		return domain.Answer{}, err
	}
	a := domain.Answer{
		QuestionID:    questionID,
		AuthorID:      p.ID,
		AuthorAddress: p.FundingAddress,
		BodyMD:        opts.BodyMD,
		ContentCID:    pinned.CID,
		ContentHash:   content.Hash(opts.BodyMD),
		CreatedAt:     e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Answer{}, err
	}
	defer tx.Rollback()
	a.ID, err = e.Repo.InsertAnswer(ctx, tx, a)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			current, _ := e.Repo.GetQuestion(ctx, questionID)
			return domain.Answer{}, InvalidStateError{QuestionID: questionID, Status: current.Status, Reason: "only open questions accept answers"}
		}
		return domain.Answer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Answer{}, err
	}
	e.publish(domain.LifecycleEvent{Kind: domain.EventAnswerCreated, QuestionID: questionID, AnswerID: a.ID})
	return a, nil
}

// AcceptResult describes an accepted answer. Exactly one of RewardTxHash
// and RewardSkipped is set once the reward step ran.
type AcceptResult struct {
	Question      domain.Question
	Answer        domain.Answer
	RewardTxHash  string
	RewardSkipped string
}

// AcceptAnswer marks answerID as the question's accepted answer, moves the
// question to its terminal status and submits the reward. A reward
// submission failure is returned alongside the result; the off-chain
// transition stands.
func (e Engine) AcceptAnswer(ctx context.Context, p auth.Principal, questionID, answerID int64) (AcceptResult, error) {
	q, err := e.getQuestion(ctx, questionID)
	if err != nil {
		return AcceptResult{}, err
	}
	if q.AuthorID != p.ID {
		return AcceptResult{}, auth.ForbiddenError{Action: "accept answers on question " + formatID(questionID)}
	}
	a, err := e.Repo.GetAnswer(ctx, answerID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && a.QuestionID != questionID) {
		return AcceptResult{}, NotFoundError{Kind: "answer", ID: answerID}
	}
	if err != nil {
		return AcceptResult{}, err
	}
	if q.TxPending() {
		return AcceptResult{}, InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "bounty transaction is still pending"}
	}
	if q.Status != domain.StatusOpen {
		return AcceptResult{}, InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "an answer was already accepted"}
	}

	status := e.config().Lifecycle.AcceptStatus
	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AcceptResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.TransitionQuestion(ctx, tx, questionID, status, now); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return AcceptResult{}, InvalidStateError{QuestionID: questionID, Status: q.Status, Reason: "question changed state concurrently"}
		}
		return AcceptResult{}, err
	}
	if err := e.Repo.MarkBestAnswer(ctx, tx, questionID, answerID); err != nil {
		return AcceptResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AcceptResult{}, err
	}
	q.Status, q.UpdatedAt = status, now
	a.IsBest = true
	e.publish(domain.LifecycleEvent{Kind: domain.EventQuestionAnswered, QuestionID: questionID, AnswerID: answerID})

	res := AcceptResult{Question: q, Answer: a}
	res.RewardTxHash, res.RewardSkipped, err = e.reward(context.WithoutCancel(ctx), q, a)
	return res, err
}

func (e Engine) reward(ctx context.Context, q domain.Question, a domain.Answer) (hash, skipped string, err error) {
	if e.Writer == nil {
		return "", "ledger writer not configured", nil
	}
	key, ok := chainKey(q)
	if !ok || q.OnchainID == nil {
		return "", "question has no confirmed on-chain id", nil
	}
	address := a.AuthorAddress
	if w, werr := e.Repo.GetWallet(ctx, a.AuthorID); werr == nil {
		address = w.Address
	}
	if address == "" {
		return "", "answerer has no funding address", nil
	}
	hash, err = e.Writer.Submit(ctx, chain.RewardUser(key, address))
	if err != nil {
		reason := failureReason(err)
		e.publish(domain.LifecycleEvent{Kind: domain.EventTxFailed, QuestionID: q.ID, AnswerID: a.ID, Reason: reason})
		return "", "", err
	}
	ct := domain.ChainTx{Hash: hash, Kind: domain.TxKindReward, QuestionID: q.ID, CreatedAt: e.timestamp()}
	if err := e.recordSubmitted(ctx, chain.MethodRewardUser, hash, func(ctx context.Context) error {
		return e.Repo.InsertChainTx(ctx, nil, ct)
	}); err != nil {
		return hash, "", err
	}
	e.follow(hash)
	return hash, "", nil
}
