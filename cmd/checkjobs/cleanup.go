//go:build ignore
// +build ignore

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Load .env
	godotenv.Load()

	// Build database URL
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

	fmt.Println("========================================")
	fmt.Println("CLEANUP: Deleting extraction data")
	fmt.Println("========================================")

	// Delete in correct order due to foreign key constraints

	// 1. Delete quiz sessions
	result := db.Exec("DELETE FROM quiz_sessions")
	fmt.Printf("Deleted %d quiz sessions\n", result.RowsAffected)

	// 2. Delete questions
	result = db.Exec("DELETE FROM questions")
	fmt.Printf("Deleted %d questions\n", result.RowsAffected)

	// 3. Delete documents
	result = db.Exec("DELETE FROM documents")
	fmt.Printf("Deleted %d documents\n", result.RowsAffected)

	// 4. Delete cron job logs
	result = db.Exec("DELETE FROM cron_job_logs")
	fmt.Printf("Deleted %d cron job logs\n", result.RowsAffected)

	fmt.Println("\n✅ Cleanup complete!")
	fmt.Println("========================================")
}
