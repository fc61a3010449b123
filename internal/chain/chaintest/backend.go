// Package chaintest provides an in-memory contract backend for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
)

// ContractAddress is the address the fake contract lives at.
const ContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// Backend simulates the bounty contract. With AutoMine set, every accepted
// transaction gets a receipt immediately; otherwise call Mine.
type Backend struct {
	mu sync.Mutex

	AutoMine  bool
	Revert    bool
	OmitEvent bool

	CallErr     error
	BalanceErr  error
	EstimateErr error
	SendErr     error
	ReceiptErr  error

	bounties  map[string]*big.Int
	questions map[string]question
	balances  map[common.Address]*big.Int
	nextID    int64
	nonce     uint64
	pending   map[common.Hash]*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	sent      []*types.Transaction
	calls     int
	block     int64
}

type question struct {
	asker    common.Address
	title    string
	resolved bool
}

func New() *Backend {
	return &Backend{
		bounties:  map[string]*big.Int{},
		questions: map[string]question{},
		balances:  map[common.Address]*big.Int{},
		pending:   map[common.Hash]*types.Transaction{},
		receipts:  map[common.Hash]*types.Receipt{},
		nextID:    1,
		block:     100,
	}
}

// SetBalance sets the native balance of addr.
func (b *Backend) SetBalance(addr string, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[common.HexToAddress(addr)] = new(big.Int).Set(wei)
}

// SetBounty overrides the bounty stored for a contract question id.
func (b *Backend) SetBounty(id int64, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bounties[big.NewInt(id).String()] = new(big.Int).Set(wei)
}

// SetNextQuestionID makes the next askQuestion use id.
func (b *Backend) SetNextQuestionID(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID = id
}

// Calls reports how many RPC methods were invoked.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Sent returns broadcast transactions in order.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.CallErr != nil {
		return nil, b.CallErr
	}
	contractABI := chain.ContractABI()
	if len(msg.Data) < 4 {
		return nil, errors.New("short call data")
	}
	method, err := contractABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case chain.MethodBountyOf:
		return method.Outputs.Pack(b.bountyLocked(args[0].(*big.Int)))
	case chain.MethodGetQuestion:
		id := args[0].(*big.Int)
		q, ok := b.questions[id.String()]
		if !ok {
			return nil, fmt.Errorf("execution reverted: unknown question %s", id)
		}
		return method.Outputs.Pack(id, q.asker, q.title, b.bountyLocked(id), q.resolved)
	case chain.MethodQuestionCount:
		return method.Outputs.Pack(big.NewInt(int64(len(b.questions))))
	}
	return nil, fmt.Errorf("unsupported view %s", method.Name)
}

func (b *Backend) bountyLocked(id *big.Int) *big.Int {
	if v, ok := b.bounties[id.String()]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.BalanceErr != nil {
		return nil, b.BalanceErr
	}
	if v, ok := b.balances[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.nonce, nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return 120_000, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.SendErr != nil {
		return b.SendErr
	}
	b.nonce++
	b.sent = append(b.sent, tx)
	b.pending[tx.Hash()] = tx
	if b.AutoMine {
		b.mineLocked(tx.Hash())
	}
	return nil
}

// Mine produces a receipt for a pending transaction.
func (b *Backend) Mine(hash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := common.HexToHash(hash)
	if _, ok := b.pending[h]; !ok {
		return fmt.Errorf("transaction %s not pending", hash)
	}
	b.mineLocked(h)
	return nil
}

func (b *Backend) mineLocked(h common.Hash) {
	tx := b.pending[h]
	delete(b.pending, h)
	b.block++
	rcpt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      h,
		BlockNumber: big.NewInt(b.block),
	}
	if b.Revert {
		rcpt.Status = types.ReceiptStatusFailed
		b.receipts[h] = rcpt
		return
	}
	if lg := b.applyLocked(tx); lg != nil && !b.OmitEvent {
		rcpt.Logs = []*types.Log{lg}
	}
	b.receipts[h] = rcpt
}

func (b *Backend) applyLocked(tx *types.Transaction) *types.Log {
	contractABI := chain.ContractABI()
	method, err := contractABI.MethodById(tx.Data()[:4])
	if err != nil {
		return nil
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return nil
	}
	contract := common.HexToAddress(ContractAddress)
	switch method.Name {
	case chain.MethodAskQuestion:
		asker := args[0].(common.Address)
		title := args[1].(string)
		bounty := args[2].(*big.Int)
		id := big.NewInt(b.nextID)
		b.nextID++
		b.questions[id.String()] = question{asker: asker, title: title}
		b.bounties[id.String()] = new(big.Int).Set(bounty)
		event := contractABI.Events["QuestionAsked"]
		data, err := event.Inputs.NonIndexed().Pack(title, bounty)
		if err != nil {
			return nil
		}
		return &types.Log{
			Address: contract,
			Topics:  []common.Hash{event.ID, common.BigToHash(id), common.BytesToHash(asker.Bytes())},
			Data:    data,
			TxHash:  tx.Hash(),
		}
	case chain.MethodFundBounty:
		id := args[0].(*big.Int)
		total := b.bountyLocked(id)
		b.bounties[id.String()] = total.Add(total, tx.Value())
		event := contractABI.Events["BountyFunded"]
		data, _ := event.Inputs.NonIndexed().Pack(tx.Value())
		return &types.Log{Address: contract, Topics: []common.Hash{event.ID, common.BigToHash(id), {}}, Data: data, TxHash: tx.Hash()}
	case chain.MethodRewardUser:
		id := args[0].(*big.Int)
		answerer := args[1].(common.Address)
		paid := b.bountyLocked(id)
		b.bounties[id.String()] = new(big.Int)
		if q, ok := b.questions[id.String()]; ok {
			q.resolved = true
			b.questions[id.String()] = q
		}
		event := contractABI.Events["UserRewarded"]
		data, _ := event.Inputs.NonIndexed().Pack(paid)
		return &types.Log{Address: contract, Topics: []common.Hash{event.ID, common.BigToHash(id), common.BytesToHash(answerer.Bytes())}, Data: data, TxHash: tx.Hash()}
	}
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.ReceiptErr != nil {
		return nil, b.ReceiptErr
	}
	if rcpt, ok := b.receipts[txHash]; ok {
		return rcpt, nil
	}
	return nil, ethereum.NotFound
}

// NewKey returns a fresh hex-encoded signer key.
func NewKey() string {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", crypto.FromECDSA(key))
}
