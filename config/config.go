package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// Share token configuration (transfer/export surface)
	SHARE_TOKEN_SECRET string
	SHARE_TOKEN_ISSUER string
	// Redis Configuration
	REDIS_URL string
	// DigitalOcean Configuration
	MODEL_ACCESS_KEY   string
	INFERENCE_BASE_URL string
	INFERENCE_MODEL    string
	DO_SPACES_KEY      string
	DO_SPACES_SECRET   string
	DO_SPACES_BUCKET   string
	DO_SPACES_REGION   string
	DO_SPACES_ENDPOINT string
	DO_SPACES_CDN_URL  string
	// OCR collaborator (page-image uploads)
	OCR_SERVICE_URL string
	// Extraction pipeline tuning
	ORACLE_MIN_INTERVAL_SECONDS int
	UNIT_TIMEOUT_SECONDS        int
	MAX_UPLOAD_MB               int
	// Retention sweep horizon for unused documents
	RETENTION_DAYS int
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	minInterval, err := strconv.Atoi(os.Getenv("ORACLE_MIN_INTERVAL_SECONDS"))
	if err != nil || minInterval <= 0 {
		minInterval = 5
	}

	unitTimeout, err := strconv.Atoi(os.Getenv("UNIT_TIMEOUT_SECONDS"))
	if err != nil || unitTimeout <= 0 {
		unitTimeout = 120
	}

	maxUploadMB, err := strconv.Atoi(os.Getenv("MAX_UPLOAD_MB"))
	if err != nil || maxUploadMB <= 0 {
		maxUploadMB = 50
	}

	retentionDays, err := strconv.Atoi(os.Getenv("RETENTION_DAYS"))
	if err != nil || retentionDays <= 0 {
		retentionDays = 90
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,
		// Share tokens
		SHARE_TOKEN_SECRET: os.Getenv("SHARE_TOKEN_SECRET"),
		SHARE_TOKEN_ISSUER: os.Getenv("SHARE_TOKEN_ISSUER"),
		// Redis
		REDIS_URL: redisURL,
		// DigitalOcean
		MODEL_ACCESS_KEY:   os.Getenv("MODEL_ACCESS_KEY"),
		INFERENCE_BASE_URL: os.Getenv("INFERENCE_BASE_URL"),
		INFERENCE_MODEL:    os.Getenv("INFERENCE_MODEL"),
		DO_SPACES_KEY:      os.Getenv("DO_SPACES_KEY"),
		DO_SPACES_SECRET:   os.Getenv("DO_SPACES_SECRET"),
		DO_SPACES_BUCKET:   os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:   os.Getenv("DO_SPACES_REGION"),
		DO_SPACES_ENDPOINT: os.Getenv("DO_SPACES_ENDPOINT"),
		DO_SPACES_CDN_URL:  os.Getenv("DO_SPACES_CDN_URL"),
		// OCR
		OCR_SERVICE_URL: os.Getenv("OCR_SERVICE_URL"),
		// Pipeline tuning
		ORACLE_MIN_INTERVAL_SECONDS: minInterval,
		UNIT_TIMEOUT_SECONDS:        unitTimeout,
		MAX_UPLOAD_MB:               maxUploadMB,
		RETENTION_DAYS:              retentionDays,
	}

	return envVariables, nil
}
