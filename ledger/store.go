// Package ledger records buy and sell transactions and keeps the derived
// per-ticker positions consistent with them.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolio-tracker/models"
)

// Store reads the ledger tables. Mutations go through Engine.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewStore(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// Position returns the holding for (userID, ticker); ok is false when the user
// holds none.
func (s *Store) Position(ctx context.Context, userID uint, ticker string) (pos models.Position, ok bool, err error) {
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND ticker = ?", userID, NormalizeTicker(ticker)).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Position{}, false, nil
	}
	if err != nil {
		return models.Position{}, false, fmt.Errorf("failed to query position: %w", err)
	}
	return pos, true, nil
}

// Positions lists a user's holdings ordered by ticker.
func (s *Store) Positions(ctx context.Context, userID uint) ([]models.Position, error) {
	var positions []models.Position
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("ticker ASC").
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	return positions, nil
}

// Transactions lists a user's ledger entries in the order they were recorded.
func (s *Store) Transactions(ctx context.Context, userID uint) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC, id ASC").
		Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return txns, nil
}

// HeldTickers lists every ticker currently held by any user.
func (s *Store) HeldTickers(ctx context.Context) ([]string, error) {
	var tickers []string
	if err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Distinct("ticker").
		Order("ticker ASC").
		Pluck("ticker", &tickers).Error; err != nil {
		return nil, fmt.Errorf("failed to query held tickers: %w", err)
	}
	return tickers, nil
}

func userExists(db *gorm.DB, userID uint) (bool, error) {
	var n int64
	if err := db.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return n > 0, nil
}

// lockPosition reads a position for update. SQLite has no row locks; its
// connection is limited to one writer in database.Open instead.
func lockPosition(tx *gorm.DB, userID uint, ticker string) (models.Position, error) {
	q := tx.Where("user_id = ? AND ticker = ?", userID, ticker)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var pos models.Position
	err := q.First(&pos).Error
	return pos, err
}
