package memory

import (
	"context"
	"maps"
	"sync"
	"time"
)

type memSession struct {
	userID      string
	transcript  string
	lastUpdated time.Time
}

// MemStore is an in-process Store. Nothing survives a restart.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	profiles map[string]map[string]any
	now      func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*memSession),
		profiles: make(map[string]map[string]any),
		now:      time.Now,
	}
}

// Transcript implements Store.
func (s *MemStore) Transcript(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.transcript, nil
	}
	return "", nil
}

// AppendTranscript implements Store.
func (s *MemStore) AppendTranscript(_ context.Context, sessionID, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memSession{userID: userID}
		s.sessions[sessionID] = sess
	}
	sess.transcript += text
	sess.lastUpdated = s.now().UTC()
	return nil
}

// Profile implements Store.
func (s *MemStore) Profile(_ context.Context, userID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.profiles[userID]))
	maps.Copy(out, s.profiles[userID])
	return out, nil
}

// MergeProfile implements Store.
func (s *MemStore) MergeProfile(_ context.Context, userID string, info map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = make(map[string]any, len(info))
		s.profiles[userID] = p
	}
	maps.Copy(p, info)
	return nil
}

// ListSessions implements Store.
func (s *MemStore) ListSessions(_ context.Context) ([]SessionInfo, error) {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		out = append(out, SessionInfo{
			SessionID:   id,
			UserID:      sess.userID,
			Title:       Title(sess.transcript),
			LastUpdated: sess.lastUpdated,
		})
	}
	s.mu.Unlock()
	sortSessions(out)
	return out, nil
}

// DeleteSession implements Store.
func (s *MemStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }
