package net

import "sort"

// SessionStore holds every live session. Game loop only.
type SessionStore struct {
	sessions map[uint64]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uint64]*Session)}
}

func (s *SessionStore) Add(sess *Session) { s.sessions[sess.ID] = sess }

func (s *SessionStore) Remove(id uint64) { delete(s.sessions, id) }

func (s *SessionStore) Get(id uint64) *Session { return s.sessions[id] }

func (s *SessionStore) Count() int { return len(s.sessions) }

// Sorted returns sessions in ID order so per-tick processing is stable.
func (s *SessionStore) Sorted() []*Session {
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForEach visits every session in ID order.
func (s *SessionStore) ForEach(fn func(*Session)) {
	for _, sess := range s.Sorted() {
		fn(sess)
	}
}
