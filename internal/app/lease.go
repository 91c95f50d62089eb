package app

import "sync"

// SubjectLeases grants exclusive per-subject execution rights so no two
// sagas run concurrently against the same subscription or payment.
// Different subjects proceed fully in parallel with no shared lock beyond
// the registry map itself.
type SubjectLeases struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewSubjectLeases creates an empty lease registry.
func NewSubjectLeases() *SubjectLeases {
	return &SubjectLeases{held: make(map[string]struct{})}
}

// Acquire takes the lease for subjectID. It never blocks: a held lease
// returns false and the caller decides whether to queue or reject.
func (l *SubjectLeases) Acquire(subjectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[subjectID]; ok {
		return false
	}
	l.held[subjectID] = struct{}{}
	return true
}

// Release returns the lease. Releasing an unheld lease is a no-op so every
// exit path can release unconditionally.
func (l *SubjectLeases) Release(subjectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, subjectID)
}
