package store

import "github.com/weiawesome/wes-io-live/chat-client/internal/domain"

// MessageStore is the ordered, id-deduplicated message list of one open
// conversation. Order is arrival position; held messages are never reordered.
// It is not safe for concurrent use; the owning controller serialises access.
type MessageStore struct {
	messages []domain.Message
	ids      map[string]struct{}
}

func New() *MessageStore {
	return &MessageStore{ids: make(map[string]struct{})}
}

// Append adds msg at the tail unless a message with the same id is already
// held. It reports whether the store changed.
func (s *MessageStore) Append(msg domain.Message) bool {
	if _, ok := s.ids[msg.ID]; ok {
		return false
	}
	s.ids[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	return true
}

// Prepend inserts an older page at the head as-is. Ids already held are
// skipped so a page overlapping the head cannot create duplicates.
// It returns the number of messages inserted.
func (s *MessageStore) Prepend(older []domain.Message) int {
	batch := make([]domain.Message, 0, len(older))
	for _, m := range older {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		s.ids[m.ID] = struct{}{}
		batch = append(batch, m)
	}
	if len(batch) == 0 {
		return 0
	}

	merged := make([]domain.Message, 0, len(batch)+len(s.messages))
	merged = append(merged, batch...)
	merged = append(merged, s.messages...)
	s.messages = merged
	return len(batch)
}

// ReplaceAll discards everything and installs the first page of a freshly
// opened conversation. Duplicate ids within the page keep their first
// occurrence.
func (s *MessageStore) ReplaceAll(page []domain.Message) {
	s.Reset()
	for _, m := range page {
		s.Append(m)
	}
}

func (s *MessageStore) Reset() {
	s.messages = nil
	s.ids = make(map[string]struct{})
}

func (s *MessageStore) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *MessageStore) Len() int {
	return len(s.messages)
}

// Last returns the newest held message.
func (s *MessageStore) Last() (domain.Message, bool) {
	if len(s.messages) == 0 {
		return domain.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Messages returns a copy of the held messages in order.
func (s *MessageStore) Messages() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
