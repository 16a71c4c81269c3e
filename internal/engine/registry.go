package engine

import "sync"

// Registry maps each chat to its at-most-one live session and routes
// inbound poll answers to the owning session. Insertions are atomic
// check-and-insert, so two concurrent starts for the same chat cannot
// both win.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*session
	polls    map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]*session),
		polls:    make(map[string]*session),
	}
}

// insertIfAbsent registers s for its chat unless one is already live.
func (r *Registry) insertIfAbsent(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.chatID]; ok {
		return false
	}
	r.sessions[s.chatID] = s
	return true
}

func (r *Registry) get(chatID int64) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[chatID]
	return s, ok
}

// remove is called only by the owning session on its terminal transition.
// It also clears any poll routes still pointing at the session.
func (r *Registry) remove(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s.chatID]; ok && current == s {
		delete(r.sessions, s.chatID)
	}
	for ref, owner := range r.polls {
		if owner == s {
			delete(r.polls, ref)
		}
	}
}

func (r *Registry) bindPoll(ref string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[ref] = s
}

func (r *Registry) unbindPoll(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.polls, ref)
}

func (r *Registry) lookupPoll(ref string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.polls[ref]
	return s, ok
}

func (r *Registry) active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
