package presence

import (
	"context"
	"sync"
)

// MemoryTypingStore keeps typing flags in process memory. It is the default
// store for single-instance deployments.
type MemoryTypingStore struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewMemoryTypingStore() *MemoryTypingStore {
	return &MemoryTypingStore{
		rooms: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryTypingStore) SetTyping(_ context.Context, roomKey, userId string, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.rooms[roomKey]
	if !ok {
		if !typing {
			return nil
		}
		users = make(map[string]struct{})
		s.rooms[roomKey] = users
	}

	if typing {
		users[userId] = struct{}{}
	} else {
		delete(users, userId)
		if len(users) == 0 {
			delete(s.rooms, roomKey)
		}
	}

	return nil
}

func (s *MemoryTypingStore) TypingUsers(_ context.Context, roomKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []string
	for id := range s.rooms[roomKey] {
		users = append(users, id)
	}

	return users, nil
}

func (s *MemoryTypingStore) ClearRoom(_ context.Context, roomKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, roomKey)
	return nil
}
