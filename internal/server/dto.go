package server

import (
	"github.com/fiskasyela/braintheria-backend/internal/domain"
)

// Request payloads

type CreateQuestionRequest struct {
	Title     string   `json:"title" minLength:"1"`
	BodyMD    string   `json:"body_md" minLength:"1"`
	Files     []string `json:"files,omitempty"`
	BountyWei string   `json:"bounty_wei,omitempty" pattern:"^[0-9]*$" doc:"Decimal wei amount escrowed at creation"`
}

type UpdateQuestionRequest struct {
	Title  *string  `json:"title,omitempty"`
	BodyMD *string  `json:"body_md,omitempty"`
	Files  []string `json:"files,omitempty"`
}

type CreateAnswerRequest struct {
	BodyMD string   `json:"body_md" minLength:"1"`
	Files  []string `json:"files,omitempty"`
}

type FundBountyRequest struct {
	AmountWei string `json:"amount_wei" pattern:"^[0-9]+$"`
}

type SetWalletRequest struct {
	Address string `json:"address" example:"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"`
}

type DevLoginRequest struct {
	Subject string `json:"sub"`
	Wallet  string `json:"wallet,omitempty"`
}

// Response payloads

// CreateQuestionResponse is the stored question. TxFailed marks a question
// whose bounty transaction could not be submitted, reverted, or was
// broadcast but not journaled (tx_hash is then set); the record itself is
// valid and answerable.
type CreateQuestionResponse struct {
	domain.Question
	TxFailed bool `json:"tx_failed"`
}

type paginatedQuestions struct {
	Items      []domain.MergedQuestion `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type AcceptResponse struct {
	Question      domain.Question `json:"question"`
	Answer        domain.Answer   `json:"answer"`
	RewardTxHash  string          `json:"reward_tx_hash,omitempty"`
	RewardSkipped string          `json:"reward_skipped,omitempty"`
	RewardError   string          `json:"reward_error,omitempty"`
}

type FundBountyResponse struct {
	QuestionID int64  `json:"question_id"`
	TxHash     string `json:"tx_hash"`
}

type ChainStateResponse struct {
	Transactions []domain.ChainTx        `json:"transactions"`
	Onchain      *domain.OnchainQuestion `json:"onchain,omitempty"`
}

type OnchainListResponse struct {
	Items    []domain.OnchainQuestion `json:"items"`
	Degraded bool                     `json:"degraded"`
}

type WhoAmIResponse struct {
	ID             string `json:"id"`
	FundingAddress string `json:"funding_address,omitempty"`
	Source         string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
