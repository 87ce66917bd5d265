package services

import (
	"database/sql"
	"fmt"
)

// ReferenceService mints globally unique, strictly increasing transaction
// references from the singleton counters row. Concurrent callers are
// serialized by the row lock taken by the UPDATE, not by application locking.
type ReferenceService struct {
	db *sql.DB
}

func NewReferenceService(db *sql.DB) *ReferenceService {
	return &ReferenceService{db: db}
}

const referenceQuery = `UPDATE counters SET value = value + 1 WHERE key = 'transactions' RETURNING value`

// NextReference mints a reference outside any caller transaction.
func (s *ReferenceService) NextReference() (string, error) {
	var value int64
	err := s.db.QueryRow(referenceQuery).Scan(&value)
	if err == sql.ErrNoRows {
		// The counter must be provisioned out of band.
		return "", ErrCounterUnavailable
	}
	if err != nil {
		return "", fmt.Errorf("failed to increment transaction counter: %w", err)
	}
	return formatReference(value), nil
}

// NextReferenceTx mints a reference inside the caller's transaction so a
// rolled-back movement rolls the counter back with it.
func (s *ReferenceService) NextReferenceTx(tx *sql.Tx) (string, error) {
	var value int64
	err := tx.QueryRow(referenceQuery).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrCounterUnavailable
	}
	if err != nil {
		return "", fmt.Errorf("failed to increment transaction counter: %w", err)
	}
	return formatReference(value), nil
}

func formatReference(value int64) string {
	return fmt.Sprintf("TX-%08d", value)
}
