package chain

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

// Backend is the subset of an EVM JSON-RPC client the service needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to an EVM node over HTTP or websocket.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", rpcURL)
	}
	return client, nil
}

const defaultReadTimeout = 5 * time.Second

// Reader performs view calls. Reads never fail: on any error the zero
// fallback is returned with ok=false and the failure is logged and counted.
type Reader struct {
	Backend  Backend
	Contract common.Address
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

func (r Reader) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r Reader) degraded(op string, err error, attrs ...any) {
	r.logger().Warn("chain read degraded", append([]any{"op", op, "error", err}, attrs...)...)
	if r.Metrics != nil {
		r.Metrics.ChainReadFallbacks.WithLabelValues(op).Inc()
	}
}

func (r Reader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.WithMessage(err, "pack "+method)
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := r.Backend.CallContract(ctx, ethereum.CallMsg{To: &r.Contract, Data: data}, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "call "+method)
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, errors.WithMessage(err, "unpack "+method)
	}
	return values, nil
}

// BountyOf returns the live bounty balance held for a question.
func (r Reader) BountyOf(ctx context.Context, id *big.Int) (*big.Int, bool) {
	values, err := r.call(ctx, MethodBountyOf, id)
	if err == nil {
		if v, ok := values[0].(*big.Int); ok {
			return v, true
		}
		err = errors.New("unexpected bountyOf output")
	}
	r.degraded(MethodBountyOf, err, "question", id.String())
	return new(big.Int), false
}

// BalanceOf returns the native balance of an address.
func (r Reader) BalanceOf(ctx context.Context, address string) (*big.Int, bool) {
	if !common.IsHexAddress(address) {
		r.degraded("balanceOf", errors.New("malformed address"), "address", address)
		return new(big.Int), false
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	balance, err := r.Backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		r.degraded("balanceOf", err, "address", address)
		return new(big.Int), false
	}
	return balance, true
}

// GetQuestion reads the contract's own record of a question.
func (r Reader) GetQuestion(ctx context.Context, id *big.Int) (domain.OnchainQuestion, bool) {
	fallback := domain.OnchainQuestion{ID: id.String(), BountyWei: "0", Degraded: true}
	values, err := r.call(ctx, MethodGetQuestion, id)
	if err != nil {
		r.degraded(MethodGetQuestion, err, "question", id.String())
		return fallback, false
	}
	qid, ok1 := values[0].(*big.Int)
	asker, ok2 := values[1].(common.Address)
	title, ok3 := values[2].(string)
	bounty, ok4 := values[3].(*big.Int)
	resolved, ok5 := values[4].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		r.degraded(MethodGetQuestion, errors.New("unexpected getQuestion output"), "question", id.String())
		return fallback, false
	}
	return domain.OnchainQuestion{
		ID:        qid.String(),
		Asker:     asker.Hex(),
		Title:     title,
		BountyWei: bounty.String(),
		Resolved:  resolved,
	}, true
}

// QuestionCount returns how many questions the contract has recorded.
func (r Reader) QuestionCount(ctx context.Context) (uint64, bool) {
	values, err := r.call(ctx, MethodQuestionCount)
	if err == nil {
		if v, ok := values[0].(*big.Int); ok && v.IsUint64() {
			return v.Uint64(), true
		}
		err = errors.New("unexpected questionCount output")
	}
	r.degraded(MethodQuestionCount, err)
	return 0, false
}
