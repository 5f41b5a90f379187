package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/moby/sys/atomicwriter"
)

const (
	recordExt   = ".json"
	counterFile = ".counter"
)

// FileStore keeps one JSON record per session in a directory.
type FileStore struct {
	dir string
	// mu serializes NextID; records themselves are replaced atomically.
	mu sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chat directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the records.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *FileStore) List(_ context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read chat directory: %w", err)
	}

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		id, ok := recordID(e)
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			out = append(out, summarize(id, nil, true))
			continue
		}
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

func (s *FileStore) Load(_ context.Context, id string) (Session, error) {
	if !ValidID(id) {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Session{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return decodeRecord(id, data)
}

func (s *FileStore) Save(_ context.Context, sess Session) error {
	if !ValidID(sess.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, sess.ID)
	}
	data, err := encodeRecord(sess)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorageWrite, sess.ID, err)
	}
	if err := atomicwriter.WriteFile(s.path(sess.ID), data, 0o644); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, sess.ID, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// NextID advances a counter persisted beside the records. The counter is also bumped
// past the highest numbered record on disk, so hand-copied files cannot be shadowed.
func (s *FileStore) NextID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.readCounter()
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("read chat directory: %w", err)
	}
	for _, e := range entries {
		id, ok := recordID(e)
		if !ok {
			continue
		}
		if n, ok := idSeq(id); ok && n > last {
			last = n
		}
	}

	next := last + 1
	counterPath := filepath.Join(s.dir, counterFile)
	if err := atomicwriter.WriteFile(counterPath, []byte(strconv.FormatInt(next, 10)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("%w: counter: %v", ErrStorageWrite, err)
	}
	return formatID(next), nil
}

func (s *FileStore) readCounter() (int64, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, counterFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read id counter: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		// A damaged counter is rebuilt from the records on disk.
		return 0, nil
	}
	return n, nil
}

func (s *FileStore) Close() error { return nil }

func recordID(e os.DirEntry) (string, bool) {
	name := e.Name()
	if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, recordExt)
	if !ValidID(id) {
		return "", false
	}
	return id, true
}
