package braintheriasdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Braintheria HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     30 * time.Second,
	}
}

// Question is the merged question view (partial).
type Question struct {
	ID                 int64    `json:"id"`
	AuthorID           string   `json:"author_id"`
	AuthorAddress      string   `json:"author_address,omitempty"`
	Title              string   `json:"title"`
	BodyMD             string   `json:"body_md"`
	ContentCID         string   `json:"content_cid"`
	Status             string   `json:"status"`
	BountyRequestedWei string   `json:"bounty_requested_wei"`
	BountyWei          string   `json:"bounty_wei"`
	BountyProvisional  bool     `json:"bounty_provisional"`
	ChainDegraded      bool     `json:"chain_degraded"`
	TxHash             *string  `json:"tx_hash,omitempty"`
	TxState            string   `json:"tx_state,omitempty"`
	TxError            string   `json:"tx_error,omitempty"`
	TxFailed           bool     `json:"tx_failed"`
	OnchainID          *string  `json:"onchain_id,omitempty"`
	ChainIDUnknown     bool     `json:"chain_id_unknown"`
	AcceptedAnswerID   int64    `json:"accepted_answer_id"`
	AnswerCount        int      `json:"answer_count"`
	Answers            []Answer `json:"answers,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

type Answer struct {
	ID            int64  `json:"id"`
	QuestionID    int64  `json:"question_id"`
	AuthorID      string `json:"author_id"`
	AuthorAddress string `json:"author_address,omitempty"`
	BodyMD        string `json:"body_md"`
	ContentCID    string `json:"content_cid"`
	IsBest        bool   `json:"is_best"`
	CreatedAt     string `json:"created_at"`
}

// AcceptResult reports an acceptance and its reward transaction.
type AcceptResult struct {
	Question      Question `json:"question"`
	Answer        Answer   `json:"answer"`
	RewardTxHash  string   `json:"reward_tx_hash,omitempty"`
	RewardSkipped string   `json:"reward_skipped,omitempty"`
	RewardError   string   `json:"reward_error,omitempty"`
}

type Wallet struct {
	PrincipalID string `json:"principal_id"`
	Address     string `json:"address"`
	UpdatedAt   string `json:"updated_at"`
}

// Event is a lifecycle notification from the event stream.
type Event struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	QuestionID int64  `json:"question_id"`
	AnswerID   int64  `json:"answer_id,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	OnchainID  string `json:"onchain_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	At         string `json:"at"`
}

type Me struct {
	ID             string `json:"id"`
	FundingAddress string `json:"funding_address,omitempty"`
	Source         string `json:"source"`
}

// PaginatedQuestions wraps list responses with cursors.
type PaginatedQuestions struct {
	Items      []Question `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// ListOptions filter ListQuestions. Author "me" selects the caller.
type ListOptions struct {
	Author string
	Status string
	Limit  int
	Cursor string
}

// CreateQuestionInput is the create payload.
type CreateQuestionInput struct {
	Title     string   `json:"title"`
	BodyMD    string   `json:"body_md"`
	Files     []string `json:"files,omitempty"`
	BountyWei string   `json:"bounty_wei,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateQuestion asks a question. A question whose bounty transaction
// failed is still returned, with TxFailed set.
func (c *Client) CreateQuestion(ctx context.Context, in CreateQuestionInput) (Question, error) {
	var resp Question
	err := c.do(ctx, http.MethodPost, "questions", in, &resp)
	return resp, err
}

// GetQuestion fetches a question with its answers and live bounty.
func (c *Client) GetQuestion(ctx context.Context, id int64) (Question, error) {
	var resp Question
	err := c.do(ctx, http.MethodGet, questionPath(id, ""), nil, &resp)
	return resp, err
}

// ListQuestions returns one page of questions.
func (c *Client) ListQuestions(ctx context.Context, opts ListOptions) (PaginatedQuestions, error) {
	q := url.Values{}
	if opts.Author != "" {
		q.Set("author", opts.Author)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	endpoint := "questions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedQuestions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateAnswer answers a question.
func (c *Client) CreateAnswer(ctx context.Context, questionID int64, bodyMD string, files []string) (Answer, error) {
	body := map[string]any{"body_md": bodyMD}
	if len(files) > 0 {
		body["files"] = files
	}
	var resp Answer
	err := c.do(ctx, http.MethodPost, questionPath(questionID, "answers"), body, &resp)
	return resp, err
}

// AcceptAnswer accepts an answer on one of the caller's questions.
func (c *Client) AcceptAnswer(ctx context.Context, questionID, answerID int64) (AcceptResult, error) {
	var resp AcceptResult
	err := c.do(ctx, http.MethodPost, questionPath(questionID, fmt.Sprintf("answers/%d/accept", answerID)), nil, &resp)
	return resp, err
}

// FundBounty tops up a question's bounty and returns the transaction hash.
func (c *Client) FundBounty(ctx context.Context, questionID int64, amountWei string) (string, error) {
	var resp struct {
		TxHash string `json:"tx_hash"`
	}
	err := c.do(ctx, http.MethodPost, questionPath(questionID, "bounty"), map[string]any{"amount_wei": amountWei}, &resp)
	return resp.TxHash, err
}

// SetWallet binds the caller's funding address.
func (c *Client) SetWallet(ctx context.Context, address string) (Wallet, error) {
	var resp Wallet
	err := c.do(ctx, http.MethodPut, "me/wallet", map[string]any{"address": address}, &resp)
	return resp, err
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// StreamEvents follows the server-sent event stream and calls fn for each
// event until ctx ends, the server closes the stream or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, kinds []string, fn func(Event) error) error {
	endpoint := c.base() + "/events"
	if len(kinds) > 0 {
		endpoint += "?kind=" + url.QueryEscape(strings.Join(kinds, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	// The stream is long-lived; only ctx bounds it.
	client := &http.Client{}
	if c.HTTPClient != nil {
		client = &http.Client{Transport: c.HTTPClient.Transport}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func questionPath(id int64, sub string) string {
	p := fmt.Sprintf("questions/%d", id)
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
