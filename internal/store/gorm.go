package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// UserModel is the users table.
type UserModel struct {
	ID        int64  `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;not null"`
	Money     int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string { return "users" }

func (m UserModel) toUser() User {
	return User{ID: m.ID, Username: m.Username, Money: m.Money}
}

// Gorm is a UserStore backed by Postgres.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the users table.
func OpenPostgres(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

func (g *Gorm) CreateUser(ctx context.Context, username string, money int64) (User, error) {
	m := UserModel{Username: username, Money: money}
	if err := g.db.WithContext(ctx).Create(&m).Error; err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return m.toUser(), nil
}

func (g *Gorm) GetUserByID(ctx context.Context, id int64) (User, error) {
	var m UserModel
	err := g.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return m.toUser(), nil
}

func (g *Gorm) Begin(ctx context.Context) (UserTx, error) {
	tx := g.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin: %w", tx.Error)
	}
	return &gormTx{tx: tx}, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	tx   *gorm.DB
	done bool
}

func (t *gormTx) UpdateMoney(ctx context.Context, id int64, delta int64) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	res := t.tx.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ? AND money + ? >= 0", id, delta).
		Update("money", gorm.Expr("money + ?", delta))
	if res.Error != nil {
		return 0, fmt.Errorf("update money for user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := t.tx.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return 0, fmt.Errorf("update money for user %d: %w", id, err)
		}
		if count == 0 {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("user %d: %w", id, ErrInsufficientFunds)
	}

	var m UserModel
	if err := t.tx.WithContext(ctx).Select("money").First(&m, id).Error; err != nil {
		return 0, fmt.Errorf("read back balance for user %d: %w", id, err)
	}
	return m.Money, nil
}

func (t *gormTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.WithContext(ctx).Commit().Error; err != nil {
		return multierr.Append(fmt.Errorf("commit: %w", err), t.tx.Rollback().Error)
	}
	return nil
}

func (t *gormTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.WithContext(ctx).Rollback().Error
}
