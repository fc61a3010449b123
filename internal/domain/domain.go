package domain

// Question statuses.
const (
	StatusOpen     = "Open"
	StatusAnswered = "Answered"
	StatusClosed   = "Closed"
)

// Ask transaction states tracked on a question. TxNone means no bounty
// transaction was ever attempted.
const (
	TxNone      = ""
	TxSubmitted = "submitted"
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
)

// Chain transaction kinds recorded in the journal.
const (
	TxKindAsk    = "ask"
	TxKindFund   = "fund"
	TxKindReward = "reward"
)

// Lifecycle event kinds.
const (
	EventQuestionCreated   = "question.created"
	EventQuestionUpdated   = "question.updated"
	EventAnswerCreated     = "answer.created"
	EventQuestionAnswered  = "question.answered"
	EventQuestionConfirmed = "question.confirmed"
	EventBountyFunded      = "bounty.funded"
	EventTxFailed          = "transaction.failed"
)

type Question struct {
	ID                 int64   `json:"id"`
	AuthorID           string  `json:"author_id"`
	AuthorAddress      string  `json:"author_address,omitempty"`
	Title              string  `json:"title"`
	BodyMD             string  `json:"body_md"`
	ContentCID         string  `json:"content_cid"`
	ContentHash        string  `json:"content_hash"`
	Status             string  `json:"status" enum:"Open,Answered,Closed"`
	BountyRequestedWei string  `json:"bounty_requested_wei"`
	TxHash             *string `json:"tx_hash,omitempty"`
	TxState            string  `json:"tx_state,omitempty" enum:"submitted,confirmed,failed"`
	TxError            string  `json:"tx_error,omitempty"`
	OnchainID          *string `json:"onchain_id,omitempty"`
	ChainIDUnknown     bool    `json:"chain_id_unknown"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// TxPending reports whether the ask transaction is still unresolved.
func (q Question) TxPending() bool { return q.TxState == TxSubmitted }

// TxFailedState reports whether the ask transaction never landed.
func (q Question) TxFailedState() bool { return q.TxState == TxFailed }

type Answer struct {
	ID            int64  `json:"id"`
	QuestionID    int64  `json:"question_id"`
	AuthorID      string `json:"author_id"`
	AuthorAddress string `json:"author_address,omitempty"`
	BodyMD        string `json:"body_md"`
	ContentCID    string `json:"content_cid"`
	ContentHash   string `json:"content_hash"`
	IsBest        bool   `json:"is_best"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// QuestionSummary is a list row: the record plus aggregate answer data.
type QuestionSummary struct {
	Question
	AnswerCount      int   `json:"answer_count"`
	AcceptedAnswerID int64 `json:"accepted_answer_id"`
}

// ChainTx is a journal row for a transaction that reached Submitted.
type ChainTx struct {
	Hash        string `json:"hash"`
	Kind        string `json:"kind" enum:"ask,fund,reward"`
	QuestionID  int64  `json:"question_id"`
	AmountWei   string `json:"amount_wei"`
	State       string `json:"state" enum:"submitted,confirmed,failed"`
	Reason      string `json:"reason,omitempty"`
	BlockNumber *int64 `json:"block_number,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Wallet struct {
	PrincipalID string `json:"principal_id"`
	Address     string `json:"address"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// LifecycleEvent is an in-process notification. It is never persisted.
type LifecycleEvent struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	QuestionID int64  `json:"question_id"`
	AnswerID   int64  `json:"answer_id,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	OnchainID  string `json:"onchain_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	At         string `json:"at" format:"date-time"`
}

// MergedQuestion is the read model: the off-chain record joined with the
// live bounty balance.
type MergedQuestion struct {
	Question
	BodyHTML          string   `json:"body_html,omitempty"`
	BountyWei         string   `json:"bounty_wei"`
	BountyProvisional bool     `json:"bounty_provisional"`
	ChainDegraded     bool     `json:"chain_degraded"`
	AcceptedAnswerID  int64    `json:"accepted_answer_id"`
	AnswerCount       int      `json:"answer_count"`
	Answers           []Answer `json:"answers,omitempty"`
}

// OnchainQuestion mirrors the contract's question struct.
type OnchainQuestion struct {
	ID        string `json:"id"`
	Asker     string `json:"asker"`
	Title     string `json:"title"`
	BountyWei string `json:"bounty_wei"`
	Resolved  bool   `json:"resolved"`
	Degraded  bool   `json:"degraded"`
}
