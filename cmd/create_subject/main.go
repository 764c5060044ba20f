package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"billscope/models"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: go run ./cmd/create_subject <name> <password>")
		os.Exit(2)
	}
	name := os.Args[1]
	password := os.Args[2]

	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}

	// check existing
	var existing models.Subject
	if err := db.Where("name = ?", name).First(&existing).Error; err == nil {
		fmt.Printf("subject %s already exists (id=%d)\n", name, existing.ID)
		os.Exit(0)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt failed: %v", err)
	}
	subject := models.Subject{Name: name, PasswordHash: hash}
	if err := db.Create(&subject).Error; err != nil {
		log.Fatalf("failed to create subject: %v", err)
	}
	fmt.Printf("created subject %s id=%d\n", name, subject.ID)
}
