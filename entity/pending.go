package entity

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// PendingQueue holds parsed transactions awaiting user approval or
// rejection. It is deliberately separate from Store: PendingTransaction
// is local-only and never replicated, so it carries none of the
// envelope/version/tombstone machinery the synced entities need.
type PendingQueue struct {
	mu    sync.Mutex
	items map[string]map[string]*PendingTransaction // userID -> id -> txn
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{items: make(map[string]map[string]*PendingTransaction)}
}

// Enqueue stores a freshly classified transaction and returns it with
// an assigned ID.
func (q *PendingQueue) Enqueue(txn PendingTransaction) *PendingTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	txn.ID = uuid.NewString()
	byUser, ok := q.items[txn.UserID]
	if !ok {
		byUser = make(map[string]*PendingTransaction)
		q.items[txn.UserID] = byUser
	}
	stored := txn
	byUser[txn.ID] = &stored
	return &stored
}

// List returns userID's pending transactions ordered oldest-first.
func (q *PendingQueue) List(userID string) []*PendingTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	byUser := q.items[userID]
	out := make([]*PendingTransaction, 0, len(byUser))
	for _, txn := range byUser {
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get fetches a single pending transaction.
func (q *PendingQueue) Get(userID, id string) (*PendingTransaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	txn, ok := q.items[userID][id]
	return txn, ok
}

// Remove drops a pending transaction once approved or rejected.
func (q *PendingQueue) Remove(userID, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items[userID], id)
}
