package external

import (
	"context"
	"sync"

	"github.com/ledgerflow/ledgercore/errs"
)

// InMemoryCloudStore is a CloudDocumentStore test/demo stand-in: one
// document per user, guarded by a mutex, with naive fan-out to
// subscribers on every write.
type InMemoryCloudStore struct {
	mu     sync.Mutex
	docs   map[string]DocumentPayload
	subs   map[string][]func()
}

func NewInMemoryCloudStore() *InMemoryCloudStore {
	return &InMemoryCloudStore{
		docs: make(map[string]DocumentPayload),
		subs: make(map[string][]func()),
	}
}

func (s *InMemoryCloudStore) ReadUserDoc(ctx context.Context, userID string) (DocumentPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[userID]
	if !ok {
		return DocumentPayload{}, errs.E("InMemoryCloudStore.ReadUserDoc", errs.KindNotFound, errNoDoc(userID))
	}
	return doc, nil
}

func (s *InMemoryCloudStore) WriteUserDoc(ctx context.Context, userID string, payload DocumentPayload) error {
	s.mu.Lock()
	s.docs[userID] = payload
	subs := append([]func(){}, s.subs[userID]...)
	s.mu.Unlock()

	for _, cb := range subs {
		if cb != nil { // nil once unsubscribed
			cb()
		}
	}
	return nil
}

func (s *InMemoryCloudStore) Subscribe(ctx context.Context, userID string, callback func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[userID] = append(s.subs[userID], callback)
	idx := len(s.subs[userID]) - 1

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[userID]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}, nil
}

type docNotFoundError struct{ userID string }

func (e docNotFoundError) Error() string { return "no cloud document for user " + e.userID }

func errNoDoc(userID string) error { return docNotFoundError{userID: userID} }
