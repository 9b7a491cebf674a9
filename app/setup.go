package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/quizforge/api/api"
	"github.com/quizforge/api/config"
	"github.com/quizforge/api/database"
	"github.com/quizforge/api/router"
	"github.com/quizforge/api/services"
	"github.com/quizforge/api/services/cron"
	"github.com/quizforge/api/utils/cache"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err

	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		print("If not running, run the following command:\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		print("Error running migrations:\n")
		return err
	}

	// Raw connection for maintenance sweeps; the cron jobs need it
	maintenance, err := database.Start()
	if err != nil {
		print("Warning: Failed to open maintenance database connection\n")
		print("Retention sweeps and stale-job recovery will be disabled\n")
		maintenance = nil
	}

	// One Redis connection serves the routes and the cron reconciler
	redisCache, err := cache.NewRedisCache(getEnv.REDIS_URL)
	if err != nil {
		print("Check whether Redis is running or not\n")
		return err
	}

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if os.Getenv("CRON_ENABLED") != "false" { // Default to enabled
		db, ok := store.GetDB().(*gorm.DB)
		if !ok {
			print("Warning: Failed to get database connection for cron jobs\n")
		} else if maintenance != nil {
			tracker := services.NewProgressTracker(redisCache)
			cronManager = cron.NewCronManager(db, maintenance, tracker, getEnv.RETENTION_DAYS)
			if err := cronManager.Start(); err != nil {
				print("Warning: Failed to start cron jobs\n")
				print("Error: ", err.Error(), "\n")
				// Don't fail the app, just log the warning
			}
		}
	}

	// Defer Closing DB and stopping cron jobs
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		if maintenance != nil {
			maintenance.Close()
		}
		store.Close()
	}()

	// Init API
	var server *api.APIServer = api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT), getEnv.MAX_UPLOAD_MB)
	app := server.GetEngine()

	// Setup Routes (security middleware is applied inside)
	router.SetupRoutes(app, store, redisCache)

	// Get the PORT & Start the Server
	return server.Run()

}
