package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/config"
	"github.com/fiskasyela/braintheria-backend/internal/content"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/events"
	"github.com/fiskasyela/braintheria-backend/internal/repo"
	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

// LedgerReader is the read side of the bounty contract. chain.Reader
// satisfies it.
type LedgerReader interface {
	BountyOf(ctx context.Context, id *big.Int) (*big.Int, bool)
	BalanceOf(ctx context.Context, address string) (*big.Int, bool)
	GetQuestion(ctx context.Context, id *big.Int) (domain.OnchainQuestion, bool)
	QuestionCount(ctx context.Context) (uint64, bool)
}

// LedgerWriter submits and confirms contract transactions. *chain.Writer
// satisfies it.
type LedgerWriter interface {
	Submit(ctx context.Context, call chain.Call) (string, error)
	Receipt(ctx context.Context, hash string) (chain.Receipt, bool, error)
	WaitConfirmed(ctx context.Context, hash string) (chain.Receipt, error)
}

var (
	_ LedgerReader = chain.Reader{}
	_ LedgerWriter = (*chain.Writer)(nil)
)

// Engine owns every question and answer state transition.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  *events.Bus
	Content content.Addressor
	Reader  LedgerReader
	Writer  LedgerWriter
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time

	inflight *sync.WaitGroup
}

// Deps are the collaborators New wires into an Engine.
type Deps struct {
	Events  *events.Bus
	Content content.Addressor
	Reader  LedgerReader
	Writer  LedgerWriter
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

func New(db *sql.DB, cfg *config.Config, deps Deps) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := telemetry.OrNew(deps.Metrics)
	bus := deps.Events
	if bus == nil {
		bus = events.NewBus(cfg.Events.QueueSize, metrics)
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   bus,
		Content:  deps.Content,
		Reader:   deps.Reader,
		Writer:   deps.Writer,
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Now:      time.Now,
		inflight: &sync.WaitGroup{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) publish(evt domain.LifecycleEvent) {
	if e.Events == nil {
		return
	}
	evt = e.Events.Publish(evt)
	e.logger().Debug("event published", "kind", evt.Kind, "question", evt.QuestionID, "id", evt.ID)
}

// Wait blocks until every background confirmation started by this engine
// has finished.
func (e Engine) Wait() {
	if e.inflight != nil {
		e.inflight.Wait()
	}
}

// follow waits for a submitted transaction in the background. It holds no
// record lock; a timeout leaves the journal row for the reconciler.
// recordSubmitted persists the journal entry of a broadcast transaction.
// A failed write is retried once; after that the hash is logged and returned
// inside a TransactionFailedError so it still reaches the caller.
func (e Engine) recordSubmitted(ctx context.Context, method, hash string, write func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	err := write(ctx)
	if err == nil {
		return nil
	}
	e.logger().Error("journal write failed after broadcast, retrying", "method", method, "hash", hash, "error", err)
	if err = write(ctx); err == nil {
		return nil
	}
	e.logger().Error("broadcast transaction missing from journal", "method", method, "hash", hash, "error", err)
	return &chain.TransactionFailedError{Method: method, Hash: hash, Reason: "journal", Err: err}
}

func (e Engine) follow(hash string) {
	if e.inflight != nil {
		e.inflight.Add(1)
	}
	go func() {
		if e.inflight != nil {
			defer e.inflight.Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.config().Chain.ConfirmTimeout)
		defer cancel()
		if _, err := e.confirm(ctx, hash); err != nil {
			e.logger().Warn("transaction follow-up ended", "hash", hash, "error", err)
		}
	}()
}

// confirm waits for hash and applies the outcome. Context errors are
// returned without touching the record.
func (e Engine) confirm(ctx context.Context, hash string) (chain.Receipt, error) {
	rcpt, err := e.Writer.WaitConfirmed(ctx, hash)
	if err != nil {
		var failed *chain.TransactionFailedError
		if !errors.As(err, &failed) {
			return rcpt, err
		}
	}
	if _, applyErr := e.applyReceipt(context.WithoutCancel(ctx), hash, rcpt, err); applyErr != nil {
		return rcpt, applyErr
	}
	return rcpt, err
}

// ResolveTx polls hash once and, when mined, applies the outcome. It is
// idempotent per hash: resolved is false when the transaction is still
// unmined or was already resolved.
func (e Engine) ResolveTx(ctx context.Context, hash string) (bool, error) {
	if e.Writer == nil {
		return false, errors.New("ledger writer not configured")
	}
	rcpt, found, err := e.Writer.Receipt(ctx, hash)
	if !found {
		return false, err
	}
	return e.applyReceipt(ctx, hash, rcpt, err)
}

// AbandonTx marks a transaction that never produced a receipt as failed.
func (e Engine) AbandonTx(ctx context.Context, hash, reason string) (bool, error) {
	return e.applyReceipt(ctx, hash, chain.Receipt{Hash: hash, State: chain.StateFailed},
		&chain.TransactionFailedError{Hash: hash, Reason: reason})
}

func (e Engine) applyReceipt(ctx context.Context, hash string, rcpt chain.Receipt, txErr error) (bool, error) {
	now := e.timestamp()
	state, reason := domain.TxConfirmed, ""
	if txErr != nil {
		state, reason = domain.TxFailed, failureReason(txErr)
	}
	var block *int64
	if rcpt.BlockNumber > 0 {
		b := int64(rcpt.BlockNumber)
		block = &b
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ct, err := e.Repo.GetChainTxTx(ctx, tx, hash)
	if err != nil {
		return false, err
	}
	if err := e.Repo.ResolveChainTx(ctx, tx, hash, state, reason, block, now); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	var onchainID string
	if ct.Kind == domain.TxKindAsk {
		if state == domain.TxConfirmed {
			var id *string
			if rcpt.QuestionID != nil {
				onchainID = rcpt.QuestionID.String()
				id = &onchainID
			}
			err = e.Repo.MarkAskConfirmed(ctx, tx, ct.QuestionID, id, now)
		} else {
			err = e.Repo.MarkAskFailed(ctx, tx, ct.QuestionID, reason, now)
		}
		if err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	evt := domain.LifecycleEvent{QuestionID: ct.QuestionID, TxHash: hash, OnchainID: onchainID}
	switch {
	case state == domain.TxFailed:
		evt.Kind = domain.EventTxFailed
		evt.Reason = reason
	case ct.Kind == domain.TxKindAsk:
		evt.Kind = domain.EventQuestionConfirmed
	case ct.Kind == domain.TxKindFund:
		evt.Kind = domain.EventBountyFunded
	}
	if evt.Kind != "" {
		e.publish(evt)
	}
	e.logger().Info("transaction resolved", "hash", hash, "kind", ct.Kind, "question", ct.QuestionID, "state", state, "onchain_id", onchainID)
	return true, nil
}

func failureReason(err error) string {
	var failed *chain.TransactionFailedError
	if errors.As(err, &failed) {
		if failed.Err != nil {
			return failed.Reason + ": " + failed.Err.Error()
		}
		return failed.Reason
	}
	return err.Error()
}

// chainKey is the identifier the contract knows a question by. Only a
// confirmed ask has one: the extracted on-chain id, or the off-chain id when
// the creation event could not be read. Questions that never submitted an
// ask have no contract slot.
func chainKey(q domain.Question) (*big.Int, bool) {
	if q.OnchainID != nil {
		if v, ok := new(big.Int).SetString(*q.OnchainID, 10); ok {
			return v, true
		}
	}
	if q.ChainIDUnknown {
		return big.NewInt(q.ID), true
	}
	return nil, false
}

func parseWei(field, raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, ValidationError{Field: field, Message: "must be a non-negative integer amount of wei"}
	}
	return v, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
