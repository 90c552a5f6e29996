package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/campusmart/marketplace-backend/internal/config"
	"github.com/campusmart/marketplace-backend/internal/database"
	"github.com/campusmart/marketplace-backend/internal/services"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// sweep runs one expiry/purge pass outside the server, for operators
// recovering from a long outage or running without the in-process cron.
func main() {
	var dbURLFlag string
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	retention := flag.Duration("retention", 24*time.Hour, "purge cancelled/rejected requests older than this")
	batch := flag.Int("batch", 100, "listings fetched per expiry batch")
	migrate := flag.Bool("migrate", false, "apply the schema before sweeping")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if *migrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
	}

	sweeper := services.NewExpirySweeper(
		database.NewListingRepository(db.DB),
		database.NewBookingRequestRepository(db.DB),
		nil,
		logger,
		*retention,
		*batch,
	)

	report := sweeper.RunOnce(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if len(report.Errors) > 0 {
		os.Exit(1)
	}
}
