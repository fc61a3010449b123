package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

// TxState is the lifecycle of one contract transaction:
// Building -> Submitted -> Confirmed | Failed.
type TxState string

const (
	StateBuilding  TxState = "building"
	StateSubmitted TxState = "submitted"
	StateConfirmed TxState = "confirmed"
	StateFailed    TxState = "failed"
)

// Call describes a state-changing contract call before it is encoded.
type Call struct {
	Method     string
	Address    string
	QuestionID *big.Int
	Title      string
	Amount     *big.Int
}

// AskQuestion registers a question and its bounty for asker.
func AskQuestion(asker, title string, bounty *big.Int) Call {
	return Call{Method: MethodAskQuestion, Address: asker, Title: title, Amount: bounty}
}

// RewardUser pays the question's bounty out to answerer.
func RewardUser(questionID *big.Int, answerer string) Call {
	return Call{Method: MethodRewardUser, QuestionID: questionID, Address: answerer}
}

// FundBounty adds amount wei to the question's bounty.
func FundBounty(questionID, amount *big.Int) Call {
	return Call{Method: MethodFundBounty, QuestionID: questionID, Amount: amount}
}

// Receipt is the outcome of a confirmed transaction. QuestionID is nil when
// the creation event was absent or carried no identifier.
type Receipt struct {
	Hash        string
	State       TxState
	BlockNumber uint64
	QuestionID  *big.Int
}

// WriterConfig configures NewWriter.
type WriterConfig struct {
	Contract        string
	PrivateKey      string
	ChainID         *big.Int
	PollInterval    time.Duration
	CreationEvent   string
	CreationIDField string
	Logger          *slog.Logger
	Metrics         *telemetry.Metrics
}

// Writer signs and broadcasts contract transactions from one server key.
// Submissions are serialized so nonces never collide.
type Writer struct {
	backend      Backend
	contract     common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	signer       types.Signer
	pollInterval time.Duration
	event        abi.Event
	idField      string
	logger       *slog.Logger
	metrics      *telemetry.Metrics

	mu sync.Mutex
}

func NewWriter(backend Backend, cfg WriterConfig) (*Writer, error) {
	if !common.IsHexAddress(cfg.Contract) {
		return nil, errors.Errorf("contract address %q is not a hex address", cfg.Contract)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse signer key")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	eventName := cfg.CreationEvent
	if eventName == "" {
		eventName = "QuestionAsked"
	}
	event, ok := contractABI.Events[eventName]
	if !ok {
		return nil, errors.Errorf("creation event %s is not in the contract ABI", eventName)
	}
	idField := cfg.CreationIDField
	if idField == "" {
		idField = "qId"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		backend:      backend,
		contract:     common.HexToAddress(cfg.Contract),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		signer:       types.LatestSignerForChainID(cfg.ChainID),
		pollInterval: poll,
		event:        event,
		idField:      idField,
		logger:       logger,
		metrics:      telemetry.OrNew(cfg.Metrics),
	}, nil
}

// From returns the signer address.
func (w *Writer) From() string { return w.from.Hex() }

// Build validates and encodes a call. It never touches the network.
func (w *Writer) Build(call Call) (data []byte, value *big.Int, err error) {
	invalid := func(reason string) error {
		return &InvalidTransactionError{Method: call.Method, Reason: reason}
	}
	value = new(big.Int)
	switch call.Method {
	case MethodAskQuestion:
		addr, addrErr := parseAddress(call.Address)
		if addrErr != nil {
			return nil, nil, invalid(addrErr.Error())
		}
		if strings.TrimSpace(call.Title) == "" {
			return nil, nil, invalid("title is required")
		}
		if call.Amount == nil || call.Amount.Sign() < 0 {
			return nil, nil, invalid("bounty must be a non-negative amount")
		}
		data, err = contractABI.Pack(call.Method, addr, call.Title, call.Amount)
	case MethodRewardUser:
		if call.QuestionID == nil || call.QuestionID.Sign() < 0 {
			return nil, nil, invalid("question id is required")
		}
		addr, addrErr := parseAddress(call.Address)
		if addrErr != nil {
			return nil, nil, invalid(addrErr.Error())
		}
		data, err = contractABI.Pack(call.Method, call.QuestionID, addr)
	case MethodFundBounty:
		if call.QuestionID == nil || call.QuestionID.Sign() < 0 {
			return nil, nil, invalid("question id is required")
		}
		if call.Amount == nil || call.Amount.Sign() <= 0 {
			return nil, nil, invalid("amount must be positive")
		}
		data, err = contractABI.Pack(call.Method, call.QuestionID)
		value = new(big.Int).Set(call.Amount)
	default:
		return nil, nil, invalid("unknown method")
	}
	if err != nil {
		return nil, nil, invalid(err.Error())
	}
	return data, value, nil
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("malformed address %q", raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("zero address")
	}
	return addr, nil
}

// ValidAddress reports whether raw is a usable, non-zero account address.
func ValidAddress(raw string) bool {
	_, err := parseAddress(raw)
	return err == nil
}

// Submit builds, signs and broadcasts call and returns the transaction hash
// once the node has accepted it. A broadcast transaction is never cancelled;
// ctx only bounds the RPC round trips.
func (w *Writer) Submit(ctx context.Context, call Call) (string, error) {
	data, value, err := w.Build(call)
	if err != nil {
		w.metrics.ChainTxs.WithLabelValues(call.Method, "invalid").Inc()
		return "", err
	}
	fail := func(step string, err error) (string, error) {
		w.metrics.ChainTxs.WithLabelValues(call.Method, "submit_failed").Inc()
		w.logger.Error("transaction submission failed", "method", call.Method, "step", step, "error", err)
		return "", &TransactionFailedError{Method: call.Method, Reason: step, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return fail("nonce", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fail("gas price", err)
	}
	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     w.from,
		To:       &w.contract,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		return fail("estimate gas", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &w.contract,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return fail("sign", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return fail("broadcast", err)
	}
	hash := signed.Hash().Hex()
	w.metrics.ChainTxs.WithLabelValues(call.Method, "submitted").Inc()
	w.logger.Info("transaction submitted", "method", call.Method, "hash", hash, "nonce", nonce)
	return hash, nil
}

// Receipt polls once. found is false while the transaction is unmined. A
// reverted transaction is found and returned with a *TransactionFailedError.
func (w *Writer) Receipt(ctx context.Context, hash string) (Receipt, bool, error) {
	rcpt, err := w.backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Receipt{Hash: hash, State: StateSubmitted}, false, nil
		}
		return Receipt{Hash: hash, State: StateSubmitted}, false, errors.WithMessage(err, "fetch receipt")
	}
	out := Receipt{Hash: hash, BlockNumber: blockNumber(rcpt)}
	if rcpt.Status == types.ReceiptStatusFailed {
		out.State = StateFailed
		w.metrics.ChainTxs.WithLabelValues("receipt", "reverted").Inc()
		return out, true, &TransactionFailedError{Hash: hash, Reason: "reverted"}
	}
	out.State = StateConfirmed
	out.QuestionID = w.QuestionIDFromLogs(rcpt.Logs)
	w.metrics.ChainTxs.WithLabelValues("receipt", "confirmed").Inc()
	return out, true, nil
}

// WaitConfirmed polls until the transaction is mined or ctx ends.
func (w *Writer) WaitConfirmed(ctx context.Context, hash string) (Receipt, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		rcpt, found, err := w.Receipt(ctx, hash)
		if found {
			return rcpt, err
		}
		if err != nil {
			w.logger.Warn("receipt poll failed", "hash", hash, "error", err)
		}
		select {
		case <-ctx.Done():
			return rcpt, ctx.Err()
		case <-ticker.C:
		}
	}
}

func blockNumber(rcpt *types.Receipt) uint64 {
	if rcpt.BlockNumber == nil || !rcpt.BlockNumber.IsUint64() {
		return 0
	}
	return rcpt.BlockNumber.Uint64()
}

// QuestionIDFromLogs extracts the question identifier from the creation
// event: first by the configured field name, then by the first uint256
// argument. It returns nil when no such event was emitted.
func (w *Writer) QuestionIDFromLogs(logs []*types.Log) *big.Int {
	for _, lg := range logs {
		if lg == nil || lg.Address != w.contract || len(lg.Topics) == 0 || lg.Topics[0] != w.event.ID {
			continue
		}
		fields := map[string]any{}
		if err := contractABI.UnpackIntoMap(fields, w.event.Name, lg.Data); err != nil {
			w.logger.Warn("creation event data undecodable", "error", err)
		}
		var indexed abi.Arguments
		for _, in := range w.event.Inputs {
			if in.Indexed {
				indexed = append(indexed, in)
			}
		}
		if len(lg.Topics)-1 >= len(indexed) {
			if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
				w.logger.Warn("creation event topics undecodable", "error", err)
			}
		}
		if v, ok := fields[w.idField].(*big.Int); ok {
			return v
		}
		for _, in := range w.event.Inputs {
			if in.Type.T != abi.UintTy {
				continue
			}
			if v, ok := fields[in.Name].(*big.Int); ok {
				return v
			}
		}
	}
	return nil
}
