package content

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPinIsContentAddressed(t *testing.T) {
	m := NewMemory()
	payload := QuestionPayload{Title: "t", BodyMD: "body", Files: []string{}}
	a, err := m.Pin(context.Background(), payload)
	require.NoError(t, err)
	b, err := m.Pin(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, a.CID, b.CID)
	assert.Equal(t, 1, m.Len())
	assert.True(t, strings.HasPrefix(a.CID, "bafk"), "raw CIDv1 in base32: %s", a.CID)

	c, err := m.Pin(context.Background(), QuestionPayload{Title: "t", BodyMD: "other"})
	require.NoError(t, err)
	assert.NotEqual(t, a.CID, c.CID)

	m.Fail = errors.New("disk full")
	_, err = m.Pin(context.Background(), payload)
	var unavailable *StorageUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestHashIsKeccakHex(t *testing.T) {
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Hash(""))
	assert.Len(t, Hash("hello"), 66)
}

func TestPinningClientPinsJSON(t *testing.T) {
	expected, err := ComputeCID([]byte("x"))
	require.NoError(t, err)
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"IpfsHash":"`+expected.String()+`","PinSize":42}`)
	}))
	defer srv.Close()

	client := NewPinningClient(PinningConfig{Endpoint: srv.URL, Token: "tok"})
	pinned, err := client.Pin(context.Background(), QuestionPayload{Title: "t", BodyMD: "b", Files: []string{}})
	require.NoError(t, err)
	assert.Equal(t, expected.String(), pinned.CID)
	assert.Equal(t, 42, pinned.Size)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, pinJSONPath, gotPath)
	content, ok := gotBody["pinataContent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "t", content["title"])
	assert.Equal(t, "b", content["bodyMd"])
}

func TestPinningClientFailuresAreStorageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bad") != "" {
			_, _ = io.WriteString(w, `{"IpfsHash":"not-a-cid"}`)
			return
		}
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewPinningClient(PinningConfig{Endpoint: srv.URL})
	_, err := client.Pin(context.Background(), QuestionPayload{Title: "t"})
	var unavailable *StorageUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "pinning", unavailable.Backend)

	bad := NewPinningClient(PinningConfig{Endpoint: srv.URL})
	bad.client.SetQueryParam("bad", "1")
	_, err = bad.Pin(context.Background(), QuestionPayload{Title: "t"})
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, err.Error(), "invalid cid")

	srv.Close()
	_, err = client.Pin(context.Background(), QuestionPayload{Title: "t"})
	require.ErrorAs(t, err, &unavailable)
}

func TestObjectStorePutsUnderCID(t *testing.T) {
	var method, path, contentType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	store, err := NewObjectStore(ObjectStoreConfig{
		Endpoint: u.Host, Bucket: "content", Prefix: "qa/", Region: "us-east-1",
		AccessKey: "key", SecretKey: "secret",
	})
	require.NoError(t, err)
	payload := AnswerPayload{QuestionID: 7, BodyMD: "answer", Files: []string{}}
	pinned, err := store.Pin(context.Background(), payload)
	require.NoError(t, err)

	data, err := encode(payload)
	require.NoError(t, err)
	expected, err := ComputeCID(data)
	require.NoError(t, err)
	assert.Equal(t, expected.String(), pinned.CID)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/content/qa/"+expected.String(), path)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, string(data), string(body))
}

func TestObjectStoreFailureIsStorageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	store, err := NewObjectStore(ObjectStoreConfig{Endpoint: u.Host, Bucket: "content", Region: "us-east-1"})
	require.NoError(t, err)

	_, err = store.Pin(context.Background(), AnswerPayload{QuestionID: 1, BodyMD: "x"})
	var unavailable *StorageUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}
