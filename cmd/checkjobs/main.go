package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quizforge/api/model"
	"github.com/quizforge/api/utils/cache"
)

// Document mirrors the model for checking
type Document struct {
	ID                  uint `gorm:"primaryKey"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Fingerprint         string
	DisplayName         string
	ContentType         string
	Status              string
	PlannedUnits        int
	CompletedUnits      int
	TotalQuestions      int
	CompletedWithErrors bool
	LastAccessedAt      time.Time
}

func (Document) TableName() string {
	return "documents"
}

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Build database URL from individual variables
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

	// Connect to database
	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	fmt.Println("========================================")
	fmt.Println("EXTRACTION STATUS CHECK")
	fmt.Println("========================================")

	// Get the most recent documents
	var documents []Document
	if err := db.Order("updated_at DESC").Limit(20).Find(&documents).Error; err != nil {
		log.Fatalf("Failed to fetch documents: %v", err)
	}

	if len(documents) == 0 {
		fmt.Println("\n❌ No documents found in database")
	} else {
		fmt.Printf("\n📋 Found %d documents:\n\n", len(documents))

		for _, doc := range documents {
			progress := 0
			if doc.PlannedUnits > 0 {
				progress = (doc.CompletedUnits * 100) / doc.PlannedUnits
			}

			statusIcon := "⏳"
			switch doc.Status {
			case "complete":
				statusIcon = "✅"
				if doc.CompletedWithErrors {
					statusIcon = "⚠️"
				}
			case "processing":
				statusIcon = "🔄"
			}

			fmt.Printf("─────────────────────────────────────\n")
			fmt.Printf("%s %s\n", statusIcon, truncate(doc.DisplayName, 50))
			fmt.Printf("   Fingerprint: %s\n", truncate(doc.Fingerprint, 16))
			fmt.Printf("   Status: %s (%s)\n", doc.Status, doc.ContentType)
			fmt.Printf("   Progress: %d%% (%d/%d units, %d questions)\n",
				progress, doc.CompletedUnits, doc.PlannedUnits, doc.TotalQuestions)
			fmt.Printf("   Updated: %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	// Documents stuck in processing past the reconciler threshold
	cutoff := time.Now().Add(-30 * time.Minute)
	var stale []Document
	db.Where("status = ? AND updated_at < ?", "processing", cutoff).Find(&stale)

	fmt.Println("\n========================================")
	fmt.Printf("STALE PROCESSING DOCUMENTS: %d\n", len(stale))
	fmt.Println("========================================")

	if len(stale) > 0 {
		for _, doc := range stale {
			fmt.Printf("🚨 %s - stuck since %s (%d/%d units)\n",
				truncate(doc.Fingerprint, 16),
				doc.UpdatedAt.Format("2006-01-02 15:04:05"),
				doc.CompletedUnits, doc.PlannedUnits)
		}
		fmt.Println("\nThe reconciler cron will recover these, or run it manually.")
	} else {
		fmt.Println("No stale documents")
	}

	// Check live job state in Redis
	fmt.Println("\n========================================")
	fmt.Println("REDIS JOB STATE")
	fmt.Println("========================================")

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		fmt.Printf("⚠️  Redis unavailable: %v\n", err)
		return
	}
	defer redisCache.Close()

	ctx := context.Background()
	keys, err := redisCache.Keys(ctx, "extract:job:*")
	if err != nil || len(keys) == 0 {
		fmt.Println("No extraction jobs in Redis")
		return
	}

	for _, key := range keys {
		var job model.ExtractionJob
		if err := redisCache.GetJSON(ctx, key, &job); err != nil {
			continue
		}
		fmt.Printf("🔄 Job %s - %s (%s, %d%%, %d/%d units)\n",
			job.JobID, job.Status, job.CurrentPhase, job.Progress,
			job.CompletedUnits, job.PlannedUnits)
		if job.Error != "" {
			fmt.Printf("   Error: %s\n", job.Error)
		}
	}

	fmt.Println("\n========================================")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
