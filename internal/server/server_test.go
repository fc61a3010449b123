package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/chain/chaintest"
	"github.com/fiskasyela/braintheria-backend/internal/config"
	"github.com/fiskasyela/braintheria-backend/internal/content"
	"github.com/fiskasyela/braintheria-backend/internal/db"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/engine"
	"github.com/fiskasyela/braintheria-backend/internal/engine/auth"
	"github.com/fiskasyela/braintheria-backend/internal/migrate"
)

const (
	testSecret = "server-test-secret"
	aliceAddr  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	bobAddr    = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type testServer struct {
	URL     string
	Engine  engine.Engine
	Backend *chaintest.Backend
	client  *http.Client
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Chain.ConfirmTimeout = 5 * time.Second
	cfg.Auth.JWTSecret = testSecret
	for _, m := range mutate {
		m(cfg)
	}
	backend := chaintest.New()
	writer, err := chain.NewWriter(backend, chain.WriterConfig{
		Contract:     chaintest.ContractAddress,
		PrivateKey:   chaintest.NewKey(),
		ChainID:      big.NewInt(31337),
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	e := engine.New(conn, cfg, engine.Deps{
		Content: content.NewMemory(),
		Reader:  chain.Reader{Backend: backend, Contract: common.HexToAddress(chaintest.ContractAddress), Timeout: time.Second},
		Writer:  writer,
	})
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: cfg.Auth.JWTSecret, DevLogin: cfg.Auth.DevLogin},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		e.Wait()
		conn.Close()
	})
	return &testServer{
		URL:     "http://" + ln.Addr().String(),
		Engine:  e,
		Backend: backend,
		client:  &http.Client{},
	}
}

func token(t *testing.T, subject, wallet string) string {
	t.Helper()
	tok, err := auth.SignToken(testSecret, subject, wallet, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, bearer string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	return decode[apiError](t, data).Body.Code
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestQuestionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.Backend.AutoMine = true
	srv.Backend.SetBalance(aliceAddr, big.NewInt(1000))
	client := srv.Client()
	aliceTok := token(t, "alice", aliceAddr)
	bobTok := token(t, "bob", bobAddr)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/questions", map[string]any{
		"title":      "Why is gas priced in gwei?",
		"body_md":    "# Gas\nPlease explain.",
		"bounty_wei": "100",
	}, aliceTok)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create question status %d: %s", res.StatusCode, string(data))
	}
	created := decode[CreateQuestionResponse](t, data)
	if created.TxFailed || created.TxHash == nil || created.Status != domain.StatusOpen {
		t.Fatalf("unexpected created question %+v", created)
	}
	srv.Engine.Wait()

	qURL := fmt.Sprintf("%s/v1/questions/%d", srv.URL, created.ID)
	res, data = doJSON(t, client, http.MethodGet, qURL, nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get question status %d: %s", res.StatusCode, string(data))
	}
	merged := decode[domain.MergedQuestion](t, data)
	if merged.BountyWei != "100" || merged.OnchainID == nil || *merged.OnchainID != "1" {
		t.Fatalf("expected confirmed bounty, got %+v", merged)
	}
	if !strings.Contains(merged.BodyHTML, "<h1>Gas</h1>") {
		t.Fatalf("expected rendered markdown, got %q", merged.BodyHTML)
	}

	res, data = doJSON(t, client, http.MethodPost, qURL+"/answers", map[string]any{"body_md": "Gwei keeps numbers readable."}, bobTok)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create answer status %d: %s", res.StatusCode, string(data))
	}
	answer := decode[domain.Answer](t, data)

	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/answers/%d/accept", qURL, answer.ID), nil, bobTok)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-author accept should be forbidden, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/answers/%d/accept", qURL, answer.ID), nil, aliceTok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	accepted := decode[AcceptResponse](t, data)
	if accepted.RewardTxHash == "" || accepted.RewardError != "" || accepted.Question.Status != domain.StatusAnswered {
		t.Fatalf("unexpected accept response %+v", accepted)
	}
	srv.Engine.Wait()

	res, data = doJSON(t, client, http.MethodGet, qURL, nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get question status %d: %s", res.StatusCode, string(data))
	}
	merged = decode[domain.MergedQuestion](t, data)
	if merged.AcceptedAnswerID != answer.ID || merged.BountyWei != "0" || merged.AnswerCount != 1 {
		t.Fatalf("expected settled question, got %+v", merged)
	}

	res, data = doJSON(t, client, http.MethodGet, qURL+"/chain", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chain state status %d: %s", res.StatusCode, string(data))
	}
	state := decode[ChainStateResponse](t, data)
	if len(state.Transactions) != 2 || state.Onchain == nil || !state.Onchain.Resolved {
		t.Fatalf("unexpected chain state %+v", state)
	}
	for _, ct := range state.Transactions {
		if ct.State != domain.TxConfirmed {
			t.Fatalf("journal row %s should be confirmed, got %s", ct.Kind, ct.State)
		}
	}
}

func TestCreateQuestionReportsFailedBountyTransaction(t *testing.T) {
	srv := newTestServer(t)
	srv.Backend.SetBalance(aliceAddr, big.NewInt(1000))
	srv.Backend.SendErr = errors.New("connection refused")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/questions", map[string]any{
		"title":      "Unbacked",
		"body_md":    "body",
		"bounty_wei": "10",
	}, token(t, "alice", aliceAddr))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for a stored question, got %d: %s", res.StatusCode, string(data))
	}
	created := decode[CreateQuestionResponse](t, data)
	if !created.TxFailed || !strings.HasPrefix(created.TxError, "broadcast") {
		t.Fatalf("expected failure marker, got %+v", created)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	aliceTok := token(t, "alice", aliceAddr)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/questions", map[string]any{"title": "t", "body_md": "b"}, "")
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("anonymous write: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/questions", nil, "not-a-jwt")
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("bad token: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/questions", map[string]any{"body_md": "b"}, aliceTok)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing title: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/questions", map[string]any{"title": "t", "body_md": "b", "bounty_wei": "50"}, aliceTok)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "insufficient_funds" {
		t.Fatalf("unfunded bounty: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/questions/999", nil, "")
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("unknown question: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/questions", map[string]any{"title": "t", "body_md": "b"}, aliceTok)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	q := decode[CreateQuestionResponse](t, data)
	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/v1/questions/%d/answers", srv.URL, q.ID), map[string]any{"body_md": "mine"}, aliceTok)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "self_answer" {
		t.Fatalf("self answer: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/v1/questions/%d/bounty", srv.URL, q.ID), map[string]any{"amount_wei": "0"}, aliceTok)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_failed" {
		t.Fatalf("zero top-up: %d %s", res.StatusCode, string(data))
	}
}

func TestHandleErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{engine.ValidationError{Field: "title", Message: "is required"}, http.StatusBadRequest, "validation_failed"},
		{engine.NotFoundError{Kind: "question", ID: 1}, http.StatusNotFound, "not_found"},
		{auth.ForbiddenError{Action: "edit"}, http.StatusForbidden, "forbidden"},
		{engine.SelfAnswerError{QuestionID: 1}, http.StatusForbidden, "self_answer"},
		{engine.InvalidStateError{QuestionID: 1, Status: domain.StatusAnswered}, http.StatusConflict, "invalid_state"},
		{engine.InsufficientFundsError{Required: "5"}, http.StatusUnprocessableEntity, "insufficient_funds"},
		{&content.StorageUnavailableError{Backend: "memory", Err: errors.New("down")}, http.StatusServiceUnavailable, "storage_unavailable"},
		{&chain.InvalidTransactionError{Method: "rewardUser", Reason: "zero address"}, http.StatusBadRequest, "invalid_transaction"},
		{fmt.Errorf("fund: %w", &chain.TransactionFailedError{Method: "fundBounty", Reason: "broadcast"}), http.StatusBadGateway, "transaction_failed"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		ae, ok := se.(*apiError)
		if !ok || ae.status != tc.status || ae.Body.Code != tc.code {
			t.Fatalf("%T: got %+v, want %d %s", tc.err, se, tc.status, tc.code)
		}
	}
}

func TestUnjournaledTransactionKeepsHash(t *testing.T) {
	err := &chain.TransactionFailedError{Method: chain.MethodFundBounty, Hash: "0xabc", Reason: "journal", Err: errors.New("database is locked")}
	ae, ok := handleError(err).(*apiError)
	if !ok || ae.status != http.StatusBadGateway || ae.Body.Details["tx_hash"] != "0xabc" || ae.Body.Details["reason"] != "journal" {
		t.Fatalf("expected 502 carrying the broadcast hash, got %+v", ae)
	}
}

func TestListQuestionsPagesAndFiltersByMe(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	aliceTok := token(t, "alice", "")
	bobTok := token(t, "bob", "")
	for i, tok := range []string{aliceTok, bobTok, aliceTok} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/questions", map[string]any{
			"title": fmt.Sprintf("q%d", i), "body_md": "body",
		}, tok)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: %d %s", i, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/questions?limit=2", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	page := decode[paginatedQuestions](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" || page.Items[0].Title != "q2" {
		t.Fatalf("unexpected first page %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/questions?limit=2&cursor="+page.NextCursor, nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list page 2: %d %s", res.StatusCode, string(data))
	}
	page = decode[paginatedQuestions](t, data)
	if len(page.Items) != 1 || page.NextCursor != "" || page.Items[0].Title != "q0" {
		t.Fatalf("unexpected second page %+v", page)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/questions?author=me", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("author=me needs a principal, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/questions?author=me", nil, bobTok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my questions: %d %s", res.StatusCode, string(data))
	}
	page = decode[paginatedQuestions](t, data)
	if len(page.Items) != 1 || page.Items[0].AuthorID != "bob" {
		t.Fatalf("unexpected my questions %+v", page)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/questions?cursor=abc", nil, "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor should be 400, got %d", res.StatusCode)
	}
}

func TestWalletBindingAndDevLogin(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.Auth.DevLogin = true })
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"sub": "dave"}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	tok := decode[DevLoginResponse](t, data).Token

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, tok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	if me := decode[WhoAmIResponse](t, data); me.ID != "dave" || me.FundingAddress != "" {
		t.Fatalf("unexpected principal %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/me/wallet", map[string]any{"address": "0x0000000000000000000000000000000000000000"}, tok)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero address should be rejected, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/me/wallet", map[string]any{"address": strings.ToLower(bobAddr)}, tok)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bind wallet: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, tok)
	if me := decode[WhoAmIResponse](t, data); me.FundingAddress != bobAddr || me.Source != auth.SourceWallet {
		t.Fatalf("expected bound wallet, got %d %+v", res.StatusCode, me)
	}
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"sub": "dave"}, "")
	if res.StatusCode != http.StatusNotFound && res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("dev login must not be routed, got %d", res.StatusCode)
	}
}

func TestDevLoginRejectsMissingAndOversizedBodies(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.Auth.DevLogin = true })
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", nil, "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body should be 400, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"sub": "  "}, "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank sub should be 400, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"sub": strings.Repeat("x", 2<<20)}, "")
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body should be 413, got %d", res.StatusCode)
	}
}

func TestEventStreamDeliversFilteredEvents(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events?kind=answer.created", nil)
	if err != nil {
		t.Fatal(err)
	}
	resCh := make(chan *http.Response, 1)
	go func() {
		res, err := srv.Client().Do(req)
		if err == nil {
			resCh <- res
		}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Engine.Events.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Engine.Events.Publish(domain.LifecycleEvent{Kind: domain.EventQuestionCreated, QuestionID: 1})
	srv.Engine.Events.Publish(domain.LifecycleEvent{Kind: domain.EventAnswerCreated, QuestionID: 1, AnswerID: 7})

	var res *http.Response
	select {
	case res = <-resCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no stream response")
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		evt := decode[domain.LifecycleEvent](t, []byte(strings.TrimPrefix(line, "data: ")))
		if evt.Kind != domain.EventAnswerCreated || evt.AnswerID != 7 {
			t.Fatalf("filtered stream delivered %+v", evt)
		}
		return
	}
	t.Fatalf("stream ended without data: %v", scanner.Err())
}

func TestOpenAPIDocumentIsServed(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d %s", res.StatusCode, string(data))
	}
	doc := decode[map[string]any](t, data)
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/questions/{id}/answers/{answer_id}/accept"]; !ok {
		t.Fatalf("accept route missing from document")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", res.StatusCode)
	}
}
