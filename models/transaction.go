package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one canonical statement row. Rows are created by the
// ingestion controller and never mutated afterwards; corrections are
// delete-and-reimport. The (subject_id, fingerprint) unique index is the
// authoritative dedup guard.
type Transaction struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	SubjectID    uint `gorm:"not null;uniqueIndex:idx_subject_fingerprint"`
	SourceFileID uint `gorm:"index;not null"`

	TransactionTime time.Time       `gorm:"index;not null"`
	Counterparty    string          `gorm:"size:255;index"`
	Direction       string          `gorm:"size:16;not null"` // income|expense|neutral
	Amount          decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Type            string          `gorm:"size:255"`
	Method          string          `gorm:"size:255"`
	Status          string          `gorm:"size:255"`
	Remark          string          `gorm:"size:512"`
	Fingerprint     string          `gorm:"size:64;not null;uniqueIndex:idx_subject_fingerprint"`
	Special         bool            `gorm:"index"`
}
