package runtime

import (
	"sync"
	"sync/atomic"

	"social-chat/contract"
	"social-chat/domain/chat"
)

type shard struct {
	mu       sync.RWMutex
	sessions map[chat.UserID]map[string]contract.Session // map user -> session id -> session
}

// Registry maps an authenticated user to its live sessions in this process.
// Users are spread over shards by id so independent users never contend on one lock.
type Registry struct {
	shards []*shard
	count  atomic.Int64
}

func NewRegistry(shards int) *Registry {
	if shards < 1 {
		shards = 1
	}
	r := &Registry{shards: make([]*shard, shards)}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[chat.UserID]map[string]contract.Session)}
	}
	return r
}

func (r *Registry) shardFor(user chat.UserID) *shard {
	return r.shards[uint64(user)%uint64(len(r.shards))]
}

// Register adds a session under its user. Registering the same session twice is a no-op.
func (r *Registry) Register(session contract.Session) {
	s := r.shardFor(session.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	userSessions, ok := s.sessions[session.UserID()]
	if !ok {
		userSessions = make(map[string]contract.Session)
		s.sessions[session.UserID()] = userSessions
	}
	if _, exists := userSessions[session.ID()]; exists {
		return
	}
	userSessions[session.ID()] = session
	r.count.Add(1)
}

// Unregister removes a session. It is safe to call from both the transport
// and the dispatcher, in any order, any number of times.
func (r *Registry) Unregister(session contract.Session) {
	s := r.shardFor(session.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	userSessions, ok := s.sessions[session.UserID()]
	if !ok {
		return
	}
	if _, exists := userSessions[session.ID()]; !exists {
		return
	}
	delete(userSessions, session.ID())
	r.count.Add(-1)
	// No empty sets are left behind to prevent memory leaks over time
	if len(userSessions) == 0 {
		delete(s.sessions, session.UserID())
	}
}

// Sessions returns a snapshot; the caller may write to them without holding any lock.
func (r *Registry) Sessions(user chat.UserID) []contract.Session {
	s := r.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()

	userSessions := s.sessions[user]
	res := make([]contract.Session, 0, len(userSessions))
	for _, session := range userSessions {
		res = append(res, session)
	}
	return res
}

func (r *Registry) Count() int {
	return int(r.count.Load())
}
