package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fiskasyela/braintheria-backend/internal/db"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/migrate"
	"github.com/fiskasyela/braintheria-backend/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insertQuestion(t *testing.T, r repo.Repo, author string) int64 {
	t.Helper()
	id, err := r.InsertQuestion(context.Background(), nil, domain.Question{
		AuthorID: author, Title: "t", BodyMD: "b", ContentCID: "cid", ContentHash: "0x01",
		CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("insert question: %v", err)
	}
	return id
}

func TestAnswerInsertGuardedByStatus(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	qid := insertQuestion(t, r, "alice")
	a := domain.Answer{QuestionID: qid, AuthorID: "bob", BodyMD: "x", ContentCID: "c", ContentHash: "h", CreatedAt: ts}
	aid, err := r.InsertAnswer(ctx, nil, a)
	if err != nil || aid == 0 {
		t.Fatalf("insert answer: id=%d err=%v", aid, err)
	}
	if err := r.TransitionQuestion(ctx, nil, qid, domain.StatusAnswered, ts); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := r.InsertAnswer(ctx, nil, a); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on answered question, got %v", err)
	}
	if err := r.TransitionQuestion(ctx, nil, qid, domain.StatusClosed, ts); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected second transition to conflict, got %v", err)
	}
}

func TestTransitionBlockedWhileAskPending(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	qid := insertQuestion(t, r, "alice")
	if err := r.SetAskTx(ctx, nil, qid, "0xabc", ts); err != nil {
		t.Fatalf("set ask tx: %v", err)
	}
	if err := r.TransitionQuestion(ctx, nil, qid, domain.StatusAnswered, ts); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected pending ask to block transition, got %v", err)
	}
	id := "7"
	if err := r.MarkAskConfirmed(ctx, nil, qid, &id, ts); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	q, err := r.GetQuestion(ctx, qid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if q.OnchainID == nil || *q.OnchainID != "7" || q.ChainIDUnknown || q.TxState != domain.TxConfirmed {
		t.Fatalf("unexpected confirmed question %+v", q)
	}
	if q.TxHash == nil || *q.TxHash != "0xabc" {
		t.Fatalf("tx hash not kept: %v", q.TxHash)
	}
}

func TestListQuestionsAggregates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	q1 := insertQuestion(t, r, "alice")
	q2 := insertQuestion(t, r, "carol")
	aid, err := r.InsertAnswer(ctx, nil, domain.Answer{QuestionID: q1, AuthorID: "bob", BodyMD: "x", ContentCID: "c", ContentHash: "h", CreatedAt: ts})
	if err != nil {
		t.Fatalf("insert answer: %v", err)
	}
	if err := r.MarkBestAnswer(ctx, nil, q1, aid); err != nil {
		t.Fatalf("mark best: %v", err)
	}
	all, err := r.ListQuestions(ctx, repo.ListQuestionsFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list: %d %v", len(all), err)
	}
	if all[0].ID != q2 {
		t.Fatalf("expected newest first, got %d", all[0].ID)
	}
	if all[1].AnswerCount != 1 || all[1].AcceptedAnswerID != aid {
		t.Fatalf("aggregates %+v", all[1])
	}
	mine, err := r.ListQuestions(ctx, repo.ListQuestionsFilter{AuthorID: "carol"})
	if err != nil || len(mine) != 1 || mine[0].ID != q2 {
		t.Fatalf("author filter: %+v %v", mine, err)
	}
	page, err := r.ListQuestions(ctx, repo.ListQuestionsFilter{BeforeID: q2, Limit: 10})
	if err != nil || len(page) != 1 || page[0].ID != q1 {
		t.Fatalf("cursor: %+v %v", page, err)
	}
}

func TestChainTxResolveOnce(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	qid := insertQuestion(t, r, "alice")
	if err := r.InsertChainTx(ctx, nil, domain.ChainTx{Hash: "0x1", Kind: domain.TxKindAsk, QuestionID: qid, CreatedAt: ts}); err != nil {
		t.Fatalf("insert tx: %v", err)
	}
	pending, err := r.ListPendingChainTxs(ctx, ts, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %+v %v", pending, err)
	}
	block := int64(12)
	if err := r.ResolveChainTx(ctx, nil, "0x1", domain.TxConfirmed, "", &block, ts); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := r.ResolveChainTx(ctx, nil, "0x1", domain.TxFailed, "late", nil, ts); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected second resolve to conflict, got %v", err)
	}
	ct, err := r.GetChainTx(ctx, "0x1")
	if err != nil || ct.State != domain.TxConfirmed || ct.BlockNumber == nil || *ct.BlockNumber != 12 {
		t.Fatalf("resolved tx %+v %v", ct, err)
	}
}

func TestWalletUpsert(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, err := r.GetWallet(ctx, "alice"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	for _, addr := range []string{"0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222"} {
		if err := r.UpsertWallet(ctx, nil, domain.Wallet{PrincipalID: "alice", Address: addr, UpdatedAt: ts}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	w, err := r.GetWallet(ctx, "alice")
	if err != nil || w.Address != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("wallet %+v %v", w, err)
	}
}

func TestResolveChainTxNoRowsIsConflict(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()
	mock.ExpectExec("UPDATE chain_txs SET state").
		WithArgs(domain.TxConfirmed, nil, nil, ts, "0xdead").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE chain_txs SET state").
		WillReturnError(errors.New("disk I/O error"))

	r := repo.Repo{DB: conn}
	if err := r.ResolveChainTx(context.Background(), nil, "0xdead", domain.TxConfirmed, "", nil, ts); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := r.ResolveChainTx(context.Background(), nil, "0xdead", domain.TxConfirmed, "", nil, ts); err == nil || errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected driver error to surface, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
