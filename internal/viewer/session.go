package viewer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const sessionKey = "proposal_session_id"

// SessionStore is a session-scoped key-value store. The browser runtime backs
// this with sessionStorage; tests and server-side rendering use MemoryStore.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// MemoryStore is an in-memory SessionStore.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// GetOrCreateSessionID returns the stable session identifier for this visit,
// minting one on first call. The id combines a timestamp with a random suffix;
// it only needs to avoid collisions across concurrent sessions, it is not a
// credential.
func GetOrCreateSessionID(store SessionStore) string {
	if id, ok := store.Get(sessionKey); ok && id != "" {
		return id
	}
	id := fmt.Sprintf("%d-%09d", time.Now().UnixMilli(), rand.Intn(1_000_000_000))
	store.Set(sessionKey, id)
	return id
}
