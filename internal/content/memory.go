package content

import (
	"context"
	"sync"
)

// Memory keeps pinned payloads in process. Fail, when set, is returned
// wrapped as StorageUnavailableError from every Pin.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	Fail    error
}

func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}}
}

func (m *Memory) Pin(_ context.Context, payload any) (Pinned, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return Pinned{}, &StorageUnavailableError{Backend: "memory", Err: m.Fail}
	}
	data, err := encode(payload)
	if err != nil {
		return Pinned{}, err
	}
	c, err := ComputeCID(data)
	if err != nil {
		return Pinned{}, err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[c.String()] = data
	return Pinned{CID: c.String(), Size: len(data)}, nil
}

// Get returns a pinned payload.
func (m *Memory) Get(cid string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[cid]
	return data, ok
}

// Len reports how many payloads are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
