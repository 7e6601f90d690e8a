package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the optional YAML configuration file. Pointer fields
// distinguish "not set" from zero values.
type fileConfig struct {
	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		Path     string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Port           string   `yaml:"port"`
		Env            string   `yaml:"env"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Security struct {
		LoginRPS   float64 `yaml:"login_rps"`
		LoginBurst int     `yaml:"login_burst"`
	} `yaml:"security"`
	Backup struct {
		Dir  string  `yaml:"dir"`
		Keep int     `yaml:"keep"`
		Cron *string `yaml:"cron"`
	} `yaml:"backup"`
	Moderation struct {
		BanSweepCron   *string  `yaml:"ban_sweep_cron"`
		OffensiveWords []string `yaml:"offensive_words"`
	} `yaml:"moderation"`
}

// LoadFile reads a YAML configuration file and then applies environment
// overrides on top of it. Unknown keys are rejected.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(&cfg)
	cfg.applyEnv()
	return cfg, nil
}

func (fc fileConfig) apply(c *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.DBDriver, fc.Database.Driver)
	set(&c.DBHost, fc.Database.Host)
	set(&c.DBPort, fc.Database.Port)
	set(&c.DBUser, fc.Database.User)
	set(&c.DBPassword, fc.Database.Password)
	set(&c.DBName, fc.Database.Name)
	set(&c.DBPath, fc.Database.Path)
	set(&c.ServerPort, fc.Server.Port)
	set(&c.Env, fc.Server.Env)
	set(&c.LogLevel, fc.Logging.Level)
	set(&c.BackupDir, fc.Backup.Dir)

	if len(fc.Server.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.Server.AllowedOrigins
	}
	if fc.Security.LoginRPS > 0 {
		c.LoginRPS = fc.Security.LoginRPS
	}
	if fc.Security.LoginBurst > 0 {
		c.LoginBurst = fc.Security.LoginBurst
	}
	if fc.Backup.Keep > 0 {
		c.BackupKeep = fc.Backup.Keep
	}
	if fc.Backup.Cron != nil {
		c.BackupCron = *fc.Backup.Cron
	}
	if fc.Moderation.BanSweepCron != nil {
		c.BanSweepCron = *fc.Moderation.BanSweepCron
	}
	if len(fc.Moderation.OffensiveWords) > 0 {
		c.OffensiveWords = fc.Moderation.OffensiveWords
	}
}

// Resolve loads the YAML file named by CONFIG_FILE when it is set and falls
// back to the environment alone otherwise.
func Resolve() (Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return LoadFile(path)
	}
	return Load(), nil
}
