//go:build ignore
// +build ignore

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Document mirrors the model for watching
type Document struct {
	ID                  uint `gorm:"primaryKey"`
	UpdatedAt           time.Time
	Fingerprint         string
	DisplayName         string
	Status              string
	PlannedUnits        int
	CompletedUnits      int
	TotalQuestions      int
	CompletedWithErrors bool
}

func (Document) TableName() string { return "documents" }

// Watches one document's extraction until it completes.
// Usage: go run watch.go <fingerprint>
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run watch.go <fingerprint>")
	}
	fingerprint := os.Args[1]

	godotenv.Load()

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER_NAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}

	dbURL := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName)

	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	fmt.Printf("Watching extraction for %s (Ctrl-C to stop)\n\n", fingerprint)

	deadline := time.Now().Add(15 * time.Minute)
	lastUnits := -1

	for time.Now().Before(deadline) {
		var doc Document
		if err := db.Where("fingerprint = ?", fingerprint).First(&doc).Error; err != nil {
			log.Fatalf("Document not found: %v", err)
		}

		if doc.CompletedUnits != lastUnits {
			lastUnits = doc.CompletedUnits
			progress := 0
			if doc.PlannedUnits > 0 {
				progress = (doc.CompletedUnits * 100) / doc.PlannedUnits
			}
			fmt.Printf("[%s] %s: %d%% (%d/%d units, %d questions)\n",
				time.Now().Format("15:04:05"), doc.Status, progress,
				doc.CompletedUnits, doc.PlannedUnits, doc.TotalQuestions)
		}

		if doc.Status == "complete" {
			if doc.CompletedWithErrors {
				fmt.Println("\n⚠️  Completed with errors (some units yielded nothing)")
			} else {
				fmt.Println("\n✅ Extraction complete")
			}
			fmt.Printf("Total questions: %d\n", doc.TotalQuestions)
			return
		}

		time.Sleep(2 * time.Second)
	}

	fmt.Println("\n⏰ Gave up waiting after 15 minutes")
}
