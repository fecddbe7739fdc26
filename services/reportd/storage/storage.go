package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MarketSnapshot records one observation of a lending reserve.
type MarketSnapshot struct {
	ID                 uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol             string    `gorm:"size:32;index;not null"`
	TotalDeposits      string    `gorm:"not null"`
	TotalBorrows       string    `gorm:"not null"`
	TotalDepositShares string    `gorm:"not null"`
	LiquidityIndex     string    `gorm:"not null"`
	BorrowIndex        string    `gorm:"not null"`
	UtilisationBps     uint64    `gorm:"not null"`
	DepositRateBps     uint64    `gorm:"not null"`
	BorrowRateBps      uint64    `gorm:"not null"`
	MarketTimestamp    uint64    `gorm:"not null"`
	ObservedAt         time.Time `gorm:"index;not null"`
}

// FeeSnapshot records protocol fee accrual for one reserve.
type FeeSnapshot struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol      string    `gorm:"size:32;index;not null"`
	Claimable   string    `gorm:"not null"`
	Cumulative  string    `gorm:"not null"`
	LastAccrual uint64    `gorm:"not null"`
	ObservedAt  time.Time `gorm:"index;not null"`
}

// Store persists collected snapshots.
type Store struct {
	db *gorm.DB
}

// Open connects to the snapshot database. Postgres DSNs select the postgres
// driver; anything else is treated as a sqlite path.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("storage: dsn required")
	}
	dialector := dialectorFor(trimmed)
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := db.AutoMigrate(&MarketSnapshot{}, &FeeSnapshot{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func dialectorFor(dsn string) gorm.Dialector {
	lowered := strings.ToLower(dsn)
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") || strings.HasPrefix(lowered, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// SaveMarketSnapshots inserts one batch of reserve observations.
func (s *Store) SaveMarketSnapshots(ctx context.Context, rows []MarketSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("storage: save market snapshots: %w", err)
	}
	return nil
}

// SaveFeeSnapshots inserts one batch of fee observations.
func (s *Store) SaveFeeSnapshots(ctx context.Context, rows []FeeSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("storage: save fee snapshots: %w", err)
	}
	return nil
}

// MarketHistory returns reserve observations for a symbol ordered oldest
// first.
func (s *Store) MarketHistory(ctx context.Context, symbol string, limit int) ([]MarketSnapshot, error) {
	query := s.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Order("observed_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []MarketSnapshot
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: market history: %w", err)
	}
	return rows, nil
}

// MarketsBetween returns every reserve observation in [start, end).
func (s *Store) MarketsBetween(ctx context.Context, start, end time.Time) ([]MarketSnapshot, error) {
	var rows []MarketSnapshot
	err := s.db.WithContext(ctx).
		Where("observed_at >= ? AND observed_at < ?", start, end).
		Order("observed_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: markets between: %w", err)
	}
	return rows, nil
}

// FeesBetween returns every fee observation in [start, end).
func (s *Store) FeesBetween(ctx context.Context, start, end time.Time) ([]FeeSnapshot, error) {
	var rows []FeeSnapshot
	err := s.db.WithContext(ctx).
		Where("observed_at >= ? AND observed_at < ?", start, end).
		Order("observed_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: fees between: %w", err)
	}
	return rows, nil
}

// LatestMarket returns the most recent observation for a symbol.
func (s *Store) LatestMarket(ctx context.Context, symbol string) (*MarketSnapshot, error) {
	var row MarketSnapshot
	err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Order("observed_at desc").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: latest market: %w", err)
	}
	return &row, nil
}
