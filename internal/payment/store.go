package payment

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Order selects creation-time ordering for listings.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// ParseOrder maps "asc"/"desc" query values; anything else is newest first.
func ParseOrder(s string) Order {
	if s == "asc" || s == "oldest" {
		return OldestFirst
	}
	return NewestFirst
}

// Store persists transactions keyed by TranID.
type Store interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	Transaction(ctx context.Context, tranID string) (Transaction, error)
	TransactionsByUser(ctx context.Context, userID string, order Order) ([]Transaction, error)
	// UpdateTransactionStatus overwrites status and gateway response in a single
	// atomic write. It reports false when no transaction has tranID.
	UpdateTransactionStatus(ctx context.Context, tranID string, st Status, resp json.RawMessage) (bool, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

func NewInMemory() *InMemory {
	return &InMemory{txs: make(map[string]*Transaction)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) CreateTransaction(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[tx.TranID]; exists {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = tx.CreatedAt
	cp := *tx
	s.txs[tx.TranID] = &cp
	return nil
}

func (s *InMemory) Transaction(ctx context.Context, tranID string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[tranID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return copyTx(tx), nil
}

func (s *InMemory) TransactionsByUser(ctx context.Context, userID string, order Order) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := []Transaction{}
	for _, tx := range s.txs {
		if tx.UserID == userID {
			res = append(res, copyTx(tx))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			if order == OldestFirst {
				return a.TranID < b.TranID
			}
			return a.TranID > b.TranID
		}
		if order == OldestFirst {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return res, nil
}

func (s *InMemory) UpdateTransactionStatus(ctx context.Context, tranID string, st Status, resp json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[tranID]
	if !ok {
		return false, nil
	}
	tx.Status = st
	tx.GatewayResponse = append(json.RawMessage(nil), resp...)
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func copyTx(tx *Transaction) Transaction {
	out := *tx
	out.GatewayResponse = append(json.RawMessage(nil), tx.GatewayResponse...)
	return out
}
