package engine_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/engine"
)

// strandAsk simulates a process that died after broadcasting an ask: the
// journal row exists but nothing is waiting for the receipt.
func strandAsk(t *testing.T, env testEnv, createdAt time.Time) (domain.Question, string) {
	t.Helper()
	q := env.ask(t, alice, "stranded", "")
	hash, err := env.Writer.Submit(env.Ctx, chain.AskQuestion(aliceAddr, q.Title, big.NewInt(5)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ts := createdAt.UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.SetAskTx(env.Ctx, nil, q.ID, hash, ts); err != nil {
		t.Fatalf("set ask tx: %v", err)
	}
	if err := env.Engine.Repo.InsertChainTx(env.Ctx, nil, domain.ChainTx{
		Hash: hash, Kind: domain.TxKindAsk, QuestionID: q.ID, AmountWei: "5", CreatedAt: ts,
	}); err != nil {
		t.Fatalf("journal: %v", err)
	}
	return q, hash
}

func TestReconcilerSweep(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return now }

	mined, minedHash := strandAsk(t, env, now.Add(-5*time.Minute))
	lost, lostHash := strandAsk(t, env, now.Add(-2*time.Hour))
	fresh, _ := strandAsk(t, env, now)
	if err := env.Backend.Mine(minedHash); err != nil {
		t.Fatal(err)
	}

	rec := engine.NewReconciler(env.Engine)
	rec.PendingAfter = time.Minute
	rec.AbandonAfter = time.Hour
	var checked []string
	rec.OnChecked = func(ct domain.ChainTx) { checked = append(checked, ct.Hash) }

	pending, err := rec.Pending(env.Ctx)
	if err != nil || len(pending) != 2 {
		t.Fatalf("expected two stale transactions, got %d (%v)", len(pending), err)
	}
	rec.Engine.Config.Chain.ReadConcurrency = 1
	report, err := rec.Sweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Checked != 2 || report.Resolved != 1 || report.Abandoned != 1 || len(checked) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, _ := env.Engine.Repo.GetQuestion(env.Ctx, mined.ID)
	if got.TxState != domain.TxConfirmed || got.OnchainID == nil {
		t.Fatalf("mined ask should be confirmed, got %+v", got)
	}
	got, _ = env.Engine.Repo.GetQuestion(env.Ctx, lost.ID)
	if got.TxState != domain.TxFailed {
		t.Fatalf("lost ask should be failed, got %+v", got)
	}
	ct, _ := env.Engine.Repo.GetChainTx(env.Ctx, lostHash)
	if ct.State != domain.TxFailed || ct.Reason != "dropped" {
		t.Fatalf("unexpected journal row %+v", ct)
	}
	got, _ = env.Engine.Repo.GetQuestion(env.Ctx, fresh.ID)
	if got.TxState != domain.TxSubmitted {
		t.Fatalf("fresh ask must be left alone, got %s", got.TxState)
	}

	report, err = rec.Sweep(env.Ctx)
	if err != nil || report.Checked != 0 {
		t.Fatalf("second sweep should find nothing stale: %+v (%v)", report, err)
	}
}

func TestResolveTxIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, hash := strandAsk(t, env, time.Now())
	resolved, err := env.Engine.ResolveTx(env.Ctx, hash)
	if err != nil || resolved {
		t.Fatalf("unmined tx must stay pending: %v %v", resolved, err)
	}
	if err := env.Backend.Mine(hash); err != nil {
		t.Fatal(err)
	}
	sub := env.subscribe(t)
	if resolved, err := env.Engine.ResolveTx(env.Ctx, hash); err != nil || !resolved {
		t.Fatalf("first resolve: %v %v", resolved, err)
	}
	if resolved, err := env.Engine.ResolveTx(env.Ctx, hash); err != nil || resolved {
		t.Fatalf("second resolve must be a no-op: %v %v", resolved, err)
	}
	if evt := nextEvent(t, sub); evt.Kind != domain.EventQuestionConfirmed {
		t.Fatalf("unexpected event %s", evt.Kind)
	}
	expectNoEvent(t, sub)
}

func TestRevertedAskMarksQuestionFailed(t *testing.T) {
	env := newTestEnv(t)
	env.Backend.AutoMine = true
	env.Backend.Revert = true
	env.Backend.SetBalance(aliceAddr, big.NewInt(1000))
	sub := env.subscribe(t)
	q := env.ask(t, alice, "reverts", "50")
	env.Engine.Wait()

	nextEvent(t, sub)
	evt := nextEvent(t, sub)
	if evt.Kind != domain.EventTxFailed || evt.Reason != "reverted" {
		t.Fatalf("unexpected event %+v", evt)
	}
	merged, err := env.Engine.View().Get(env.Ctx, q.ID)
	if err != nil || merged.BountyWei != "0" || merged.TxState != domain.TxFailed {
		t.Fatalf("reverted ask must read as unbacked: %+v (%v)", merged, err)
	}
}
