package main

import (
	"log"
	"os"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"billscope/models"
)

func initDB() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true). Any permission errors will be logged and ignored.
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		if lv == "false" || lv == "0" || lv == "no" {
			shouldMigrate = false
		}
	}
	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others.
		// Subjects first so the FK targets exist before files and transactions.
		if err := db.AutoMigrate(&models.Subject{}); err != nil {
			log.Printf("migration warning (subjects): %v", err)
		}
		if err := db.AutoMigrate(&models.SourceFile{}); err != nil {
			log.Printf("migration warning (source_files): %v", err)
		}
		if err := db.AutoMigrate(&models.Transaction{}); err != nil {
			log.Printf("migration warning (transactions): %v", err)
		}
	}
	ensureUploadBase()
	return db
}

// ensureUploadBase creates the base directory where raw statement uploads are archived.
func ensureUploadBase() {
	base := uploadBaseDir()
	if err := os.MkdirAll(base, 0755); err != nil {
		log.Printf("failed to create upload base dir %s: %v", base, err)
	}
}

// uploadBaseDir returns the base directory for archived uploads (configurable via UPLOAD_BASE env)
func uploadBaseDir() string {
	if v := os.Getenv("UPLOAD_BASE"); v != "" {
		return v
	}
	return "uploads"
}
