package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	k8stypes "k8s.io/apimachinery/pkg/types"
)

// MySQL server error numbers that abort a transaction which is safe to rerun.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// retryableTxnError reports whether a ledger transaction lost a race and
// should be rerun against the winner's row. Two writers creating the same
// missing UID both hold gap locks, so InnoDB aborts one with a deadlock
// rather than a duplicate key.
func retryableTxnError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	return false
}

// ledgerRow is the MySQL representation of an Entry.
type ledgerRow struct {
	UID       string `gorm:"primaryKey;size:64"`
	Kind      string `gorm:"size:32"`
	Namespace string `gorm:"size:253;index"`
	Name      string `gorm:"size:253"`
	Data      []byte `gorm:"type:mediumblob;not null"`
	UpdatedAt time.Time
}

func (ledgerRow) TableName() string { return "ledger_entries" }

// SQLStore keeps ledger entries in MySQL, one row per UID.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore connects to MySQL and migrates the ledger table.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ledger database: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an existing gorm connection and migrates the ledger table.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&ledgerRow{}); err != nil {
		return nil, fmt.Errorf("migrate ledger table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Update implements Store. The row is locked with SELECT ... FOR UPDATE for the
// duration of the transaction. Two writers racing to create the same row get a
// duplicate key or deadlock error; the loser retries and merges into the
// winner's row.
func (s *SQLStore) Update(ctx context.Context, uid k8stypes.UID, fn UpdateFunc) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row ledgerRow
			var current *Entry

			res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("uid = ?", string(uid)).
				Take(&row)
			exists := true
			switch {
			case errors.Is(res.Error, gorm.ErrRecordNotFound):
				exists = false
			case res.Error != nil:
				return fmt.Errorf("read entry %s: %w", uid, res.Error)
			default:
				decoded, err := decodeEntry(row.Data)
				if err != nil {
					return fmt.Errorf("entry %s: %w", uid, err)
				}
				current = decoded
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				return nil
			}

			data, err := encodeEntry(next)
			if err != nil {
				return fmt.Errorf("encode entry %s: %w", uid, err)
			}
			row = ledgerRow{
				UID:       string(uid),
				Kind:      string(next.Identity.Kind),
				Namespace: next.Identity.Namespace,
				Name:      next.Identity.Name,
				Data:      data,
				UpdatedAt: next.UpdatedAt,
			}
			if exists {
				return tx.Save(&row).Error
			}
			return tx.Create(&row).Error
		})
		if !retryableTxnError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("update entry %s: %w", uid, err)
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, uid k8stypes.UID) (*Entry, error) {
	var row ledgerRow
	err := s.db.WithContext(ctx).Where("uid = ?", string(uid)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", uid, err)
	}
	e, err := decodeEntry(row.Data)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", uid, err)
	}
	return e, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, fn func(*Entry) error) error {
	var rows []ledgerRow
	return s.db.WithContext(ctx).FindInBatches(&rows, 200, func(tx *gorm.DB, _ int) error {
		for _, row := range rows {
			e, err := decodeEntry(row.Data)
			if err != nil {
				return fmt.Errorf("entry %s: %w", row.UID, err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	}).Error
}

// Close implements Store.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
