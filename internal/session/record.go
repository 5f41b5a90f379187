package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ent0n29/ava/internal/memory"
)

// record is the persisted shape: {"title": string|null, "messages": [{role, content}]}.
type record struct {
	Title    *string          `json:"title"`
	Messages []memory.Message `json:"messages"`
}

type rawRecord struct {
	Title    *string         `json:"title"`
	Messages json.RawMessage `json:"messages"`
}

func encodeRecord(s Session) ([]byte, error) {
	msgs := s.Messages
	if msgs == nil {
		msgs = []memory.Message{}
	}
	return json.MarshalIndent(record{Title: s.Title, Messages: msgs}, "", "  ")
}

func decodeRecord(id string, data []byte) (Session, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	if raw.Messages == nil {
		return Session{}, fmt.Errorf("%w: %s: missing messages", ErrCorrupt, id)
	}
	msgs, err := decodeMessages(raw.Messages)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return Session{ID: id, Title: raw.Title, Messages: msgs}, nil
}

func encodeMessages(msgs []memory.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []memory.Message{}
	}
	return json.Marshal(msgs)
}

func decodeMessages(data []byte) ([]memory.Message, error) {
	var msgs []memory.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return msgs, nil
}

// idSeq extracts n from "chat_<n>".
func idSeq(id string) (int64, bool) {
	if !strings.HasPrefix(id, idPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, idPrefix), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func formatID(n int64) string {
	return idPrefix + strconv.FormatInt(n, 10)
}

// sortNewestFirst orders by descending sequence number; ids without one sort after
// numbered ids in reverse lexicographic order.
func sortNewestFirst(items []Summary) {
	sort.SliceStable(items, func(i, j int) bool {
		si, oki := idSeq(items[i].ID)
		sj, okj := idSeq(items[j].ID)
		switch {
		case oki && okj:
			if si != sj {
				return si > sj
			}
			return items[i].ID > items[j].ID
		case oki != okj:
			return oki
		default:
			return items[i].ID > items[j].ID
		}
	})
}

func summarize(id string, title *string, corrupt bool) Summary {
	s := Summary{ID: id, Title: UntitledTitle, Corrupt: corrupt}
	if !corrupt && title != nil && strings.TrimSpace(*title) != "" {
		s.Title = *title
	}
	return s
}
