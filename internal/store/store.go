// Package store holds user balances.
package store

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTxDone            = errors.New("transaction already committed or rolled back")
)

type User struct {
	ID       int64
	Username string
	Money    int64
}

// UserStore reads users and opens balance transactions.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (User, error)
	Begin(ctx context.Context) (UserTx, error)
}

// UserTx stages balance changes that become visible together on Commit.
type UserTx interface {
	// UpdateMoney adds delta to the user's balance and returns the staged
	// balance. A change that would make the balance negative fails with
	// ErrInsufficientFunds.
	UpdateMoney(ctx context.Context, id int64, delta int64) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
