package models

import "time"

// SourceFile records one ingested statement export. Immutable once stored;
// deleting it cascades to exactly the transactions it produced.
type SourceFile struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	SubjectID uint   `gorm:"index;not null"`
	FileName  string `gorm:"size:255;not null"`
	Format    string `gorm:"size:8;not null"` // pdf|xlsx|xls
	SizeBytes int64  `gorm:"not null"`
	StorePath string `gorm:"size:512"`

	Transactions []Transaction `gorm:"foreignKey:SourceFileID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}
