package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	// データベース接続設定
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string

	// サーバー設定
	ServerPort string
	Env        string
	LogLevel   string

	// CORS設定
	AllowedOrigins []string

	// /api/login の IP 単位レート制限
	LoginRPS   float64
	LoginBurst int

	BackupDir  string
	BackupKeep int
	BackupCron string

	BanSweepCron   string
	OffensiveWords []string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DBDriver:       "mysql",
		DBHost:         "localhost",
		DBPort:         "3306",
		DBPath:         "zonemarket.db",
		ServerPort:     "8080",
		Env:            "development",
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		LoginRPS:       1,
		LoginBurst:     5,
		BackupDir:      "backups",
		BackupKeep:     10,
		BanSweepCron:   "*/5 * * * *",
	}
}

// Load loads configuration from environment variables
func Load() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.DBDriver = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		c.DBPort = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.ServerPort = v
	}
	if v := os.Getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	if v, err := strconv.ParseFloat(os.Getenv("LOGIN_RPS"), 64); err == nil && v > 0 {
		c.LoginRPS = v
	}
	if v, err := strconv.Atoi(os.Getenv("LOGIN_BURST")); err == nil && v > 0 {
		c.LoginBurst = v
	}

	if v := os.Getenv("BACKUP_DIR"); v != "" {
		c.BackupDir = v
	}
	if v, err := strconv.Atoi(os.Getenv("BACKUP_KEEP")); err == nil && v > 0 {
		c.BackupKeep = v
	}
	if v, ok := os.LookupEnv("BACKUP_CRON"); ok {
		c.BackupCron = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("BAN_SWEEP_CRON"); ok {
		c.BanSweepCron = strings.TrimSpace(v)
	}
	if v := os.Getenv("OFFENSIVE_WORDS"); v != "" {
		c.OffensiveWords = splitList(v)
	}
}

// DSN returns the database/sql data source name for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "sqlite3" {
		return c.DBPath
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// IsProduction reports whether the server runs with ENV=production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
