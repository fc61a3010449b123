package braintheriasdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsBearerAndDecodes(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/questions":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":4,"title":"t","status":"Open","tx_failed":true,"tx_error":"broadcast"}`))
				return
			}
			_, _ = w.Write([]byte(`{"items":[{"id":4,"bounty_wei":"10"}],"next_cursor":"4"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	q, err := c.CreateQuestion(context.Background(), CreateQuestionInput{Title: "t", BodyMD: "b", BountyWei: "10"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotAuth != "Bearer tok" || gotPath != "/v1/questions" || gotBody["bounty_wei"] != "10" {
		t.Fatalf("unexpected request auth=%q path=%q body=%v", gotAuth, gotPath, gotBody)
	}
	if q.ID != 4 || !q.TxFailed || q.TxError != "broadcast" {
		t.Fatalf("unexpected question %+v", q)
	}

	page, err := c.ListQuestions(context.Background(), ListOptions{Author: "me", Limit: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotQuery != "author=me&limit=5" || len(page.Items) != 1 || page.NextCursor != "4" {
		t.Fatalf("unexpected list query=%q page=%+v", gotQuery, page)
	}
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_state","message":"question 1 is Answered"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").AcceptAnswer(context.Background(), 1, 2)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_state" || apiErr.Message != "question 1 is Answered" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestStreamEventsDecodesDataLines(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: lifecycle\n")
		fmt.Fprint(w, `data: {"id":"e1","kind":"answer.created","question_id":3,"answer_id":7}`+"\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, `data: {"id":"e2","kind":"transaction.failed","question_id":3,"reason":"reverted"}`+"\n\n")
	}))
	defer srv.Close()

	var got []Event
	err := New(srv.URL, "").StreamEvents(context.Background(), []string{"answer.created", "transaction.failed"}, func(evt Event) error {
		got = append(got, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if gotQuery != "kind=answer.created%2Ctransaction.failed" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(got) != 2 || got[0].AnswerID != 7 || got[1].Reason != "reverted" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestStreamEventsStopsOnCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"id":"e1","kind":"question.created","question_id":1}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"e2","kind":"question.created","question_id":2}`+"\n\n")
	}))
	defer srv.Close()

	stop := errors.New("stop")
	calls := 0
	err := New(srv.URL, "").StreamEvents(context.Background(), nil, func(Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected stop after one event, got err=%v calls=%d", err, calls)
	}
}
