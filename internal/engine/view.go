package engine

import (
	"bytes"
	"context"
	"math/big"

	"github.com/yuin/goldmark"
	"golang.org/x/sync/errgroup"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/repo"
)

// View is the read path. Every call merges the stored record with a fresh
// contract read; nothing is cached between calls.
type View struct {
	Engine Engine
}

// View returns the reconciled read model over this engine.
func (e Engine) View() View {
	return View{Engine: e}
}

// Get returns the merged question with its answers.
func (v View) Get(ctx context.Context, id int64) (domain.MergedQuestion, error) {
	q, err := v.Engine.getQuestion(ctx, id)
	if err != nil {
		return domain.MergedQuestion{}, err
	}
	answers, err := v.Engine.Repo.ListAnswers(ctx, id)
	if err != nil {
		return domain.MergedQuestion{}, err
	}
	m := v.merge(ctx, q)
	m.BodyHTML = renderMarkdown(q.BodyMD)
	m.Answers = answers
	m.AnswerCount = len(answers)
	for _, a := range answers {
		if a.IsBest {
			m.AcceptedAnswerID = a.ID
			break
		}
	}
	return m, nil
}

// ListFilter narrows List. Cursor is the id of the last question of the
// previous page.
type ListFilter struct {
	AuthorID string
	Status   string
	Cursor   int64
	Limit    int
}

// List returns merged questions newest first and the cursor for the next
// page, or zero when this page is the last. Bounty reads run in parallel.
func (v View) List(ctx context.Context, f ListFilter) ([]domain.MergedQuestion, int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := v.Engine.Repo.ListQuestions(ctx, repo.ListQuestionsFilter{
		AuthorID: f.AuthorID,
		Status:   f.Status,
		BeforeID: f.Cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		return nil, 0, err
	}
	var next int64
	if len(rows) > limit {
		rows = rows[:limit]
		next = rows[limit-1].ID
	}
	out := make([]domain.MergedQuestion, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.Engine.config().Chain.ReadConcurrency)
	for i, row := range rows {
		g.Go(func() error {
			m := v.merge(gctx, row.Question)
			m.AnswerCount = row.AnswerCount
			m.AcceptedAnswerID = row.AcceptedAnswerID
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, next, nil
}

// merge attaches the live bounty. A pending ask reports the requested
// amount as provisional; a failed ask reports zero without a read.
func (v View) merge(ctx context.Context, q domain.Question) domain.MergedQuestion {
	m := domain.MergedQuestion{Question: q, BountyWei: "0"}
	switch {
	case q.TxFailedState():
		return m
	case q.TxPending():
		m.BountyWei = q.BountyRequestedWei
		m.BountyProvisional = true
		return m
	}
	key, ok := chainKey(q)
	if !ok {
		return m
	}
	if v.Engine.Reader == nil {
		m.ChainDegraded = true
		return m
	}
	bounty, ok := v.Engine.Reader.BountyOf(ctx, key)
	m.BountyWei = bounty.String()
	m.ChainDegraded = !ok
	return m
}

// Onchain returns the contract's own record of a confirmed question.
func (v View) Onchain(ctx context.Context, id int64) (domain.OnchainQuestion, error) {
	q, err := v.Engine.getQuestion(ctx, id)
	if err != nil {
		return domain.OnchainQuestion{}, err
	}
	if q.OnchainID == nil {
		return domain.OnchainQuestion{}, InvalidStateError{QuestionID: id, Status: q.Status, Reason: "question has no confirmed on-chain id"}
	}
	if v.Engine.Reader == nil {
		return domain.OnchainQuestion{ID: *q.OnchainID, BountyWei: "0", Degraded: true}, nil
	}
	key, _ := chainKey(q)
	oq, _ := v.Engine.Reader.GetQuestion(ctx, key)
	return oq, nil
}

// OnchainList reads up to limit of the most recent contract questions. It
// returns nothing when the count cannot be read.
func (v View) OnchainList(ctx context.Context, limit int) ([]domain.OnchainQuestion, bool) {
	if v.Engine.Reader == nil {
		return []domain.OnchainQuestion{}, false
	}
	count, ok := v.Engine.Reader.QuestionCount(ctx)
	if !ok {
		return []domain.OnchainQuestion{}, false
	}
	if limit <= 0 {
		limit = 50
	}
	n := int(min(count, uint64(limit)))
	out := make([]domain.OnchainQuestion, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.Engine.config().Chain.ReadConcurrency)
	for i := range n {
		id := new(big.Int).SetUint64(count - uint64(i))
		g.Go(func() error {
			out[i], _ = v.Engine.Reader.GetQuestion(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return out, true
}

func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}
