package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the process settings read from the environment.
type Config struct {
	DBDriver    string
	DBSource    string
	Port        string
	LogLevel    logrus.Level
	Location    *time.Location
	OverdueCron string
}

// Load reads a .env file if there is one, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn(".env file not found, using environment only")
	}

	driver := getEnv("DB_DRIVER", DriverSQLite)
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	source := os.Getenv("DB_SOURCE")
	if source == "" {
		if driver == DriverPostgres {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required for postgres")
		}
		source = "sharkpro.db"
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "America/Sao_Paulo"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	return &Config{
		DBDriver:    driver,
		DBSource:    source,
		Port:        getEnv("SERVER_PORT", "8080"),
		LogLevel:    level,
		Location:    loc,
		OverdueCron: getEnv("OVERDUE_CRON", "0 1 * * *"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
