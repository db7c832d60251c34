package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a UserStore kept in process memory. Transactions stage
// deltas and apply them under one lock on Commit.
type Memory struct {
	mu     sync.Mutex
	users  map[int64]User
	nextID int64

	// failCommit, when set, is returned by every Commit instead of applying.
	failCommit error
}

func NewMemory() *Memory {
	return &Memory{users: make(map[int64]User), nextID: 1}
}

// CreateUser adds a user and returns it with its assigned id.
func (m *Memory) CreateUser(username string, money int64) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := User{ID: m.nextID, Username: username, Money: money}
	m.users[u.ID] = u
	m.nextID++
	return u
}

func (m *Memory) SetFailCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

func (m *Memory) GetUserByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) Begin(_ context.Context) (UserTx, error) {
	return &memoryTx{m: m, deltas: make(map[int64]int64)}, nil
}

type memoryTx struct {
	m      *Memory
	deltas map[int64]int64
	done   bool
}

func (tx *memoryTx) UpdateMoney(_ context.Context, id int64, delta int64) (int64, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()

	u, ok := tx.m.users[id]
	if !ok {
		return 0, ErrUserNotFound
	}
	staged := u.Money + tx.deltas[id] + delta
	if staged < 0 {
		return 0, fmt.Errorf("user %d: %w", id, ErrInsufficientFunds)
	}
	tx.deltas[id] += delta
	return staged, nil
}

func (tx *memoryTx) Commit(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	if tx.m.failCommit != nil {
		return tx.m.failCommit
	}
	for id, d := range tx.deltas {
		if tx.m.users[id].Money+d < 0 {
			return fmt.Errorf("user %d: %w", id, ErrInsufficientFunds)
		}
	}
	for id, d := range tx.deltas {
		u := tx.m.users[id]
		u.Money += d
		tx.m.users[id] = u
	}
	return nil
}

func (tx *memoryTx) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	return nil
}
