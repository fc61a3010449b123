// Package content pins question and answer bodies to content-addressed
// storage.
package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Addressor stores a JSON payload and returns its content identifier.
type Addressor interface {
	Pin(ctx context.Context, payload any) (Pinned, error)
}

// Pinned is the result of a successful pin.
type Pinned struct {
	CID  string
	Size int
}

// StorageUnavailableError wraps any failure of the content store.
type StorageUnavailableError struct {
	Backend string
	Err     error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("content storage %s unavailable: %v", e.Backend, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// QuestionPayload is the pinned form of a question.
type QuestionPayload struct {
	Title  string   `json:"title"`
	BodyMD string   `json:"bodyMd"`
	Files  []string `json:"files"`
}

// AnswerPayload is the pinned form of an answer.
type AnswerPayload struct {
	QuestionID int64    `json:"questionId"`
	BodyMD     string   `json:"bodyMd"`
	Files      []string `json:"files"`
}

// Hash returns the keccak256 digest of a markdown body as 0x-prefixed hex.
func Hash(body string) string {
	return crypto.Keccak256Hash([]byte(body)).Hex()
}

// ComputeCID derives the CIDv1 (raw codec, sha2-256) of data.
func ComputeCID(data []byte) (cid.Cid, error) {
	prefix := cid.Prefix{
		Version:  1,
		Codec:    cid.Raw,
		MhType:   multihash.SHA2_256,
		MhLength: -1,
	}
	return prefix.Sum(data)
}

func encode(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
