package session

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and ephemeral runs. Records are kept
// encoded so reads go through the same codec as the durable backends.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	last    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.records))
	for id, data := range s.records {
		sess, err := decodeRecord(id, data)
		if err != nil {
			out = append(out, summarize(id, nil, true))
			continue
		}
		out = append(out, summarize(id, sess.Title, false))
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeRecord(id, data)
}

func (s *MemoryStore) Save(_ context.Context, sess Session) error {
	if !ValidID(sess.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, sess.ID)
	}
	data, err := encodeRecord(sess)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorageWrite, sess.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sess.ID] = data
	return nil
}

// PutRaw stores data verbatim under id. It exists to exercise corrupt-record handling.
func (s *MemoryStore) PutRaw(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.records[id] = cp
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) NextID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.records {
		if n, ok := idSeq(id); ok && n > s.last {
			s.last = n
		}
	}
	s.last++
	return formatID(s.last), nil
}

func (s *MemoryStore) Close() error { return nil }
