package models

import "time"

// Subject is a named analysis target. Each subject is gated by its own
// password and owns the statement files uploaded for it and every
// transaction extracted from them.
type Subject struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Name         string `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash []byte `gorm:"not null" json:"-"`

	// Cached AI narrative; AnalysisSignature invalidates the cache when the
	// underlying dataset or the requested window changes.
	AIAnalysis        string `gorm:"type:text" json:"-"`
	AnalysisSignature string `gorm:"size:128" json:"-"`

	Files        []SourceFile  `gorm:"foreignKey:SubjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Transactions []Transaction `gorm:"foreignKey:SubjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}
