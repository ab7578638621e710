// Package config reads settings from the environment, an optional .env file
// and an optional YAML import file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DB      DBConfig
	Import  ImportConfig
	LogMode string
	// GoogleCredentials is a service account key file path or inline JSON.
	GoogleCredentials string
	// MetricsAddr serves /metrics when set.
	MetricsAddr string
	Rules       ImportRules
}

type DBConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

type ImportConfig struct {
	BatchSize         int
	MaxConcurrency    int
	UpdateConcurrency int
	MaxErrors         int
}

// ImportRules is the YAML import file.
type ImportRules struct {
	// SubjectAliases maps a sheet name to the subject used for rows whose
	// subject cell is blank.
	SubjectAliases map[string]string `yaml:"subject_aliases"`
	// SkipSheets lists sheets never imported.
	SkipSheets []string `yaml:"skip_sheets"`
}

// SubjectFor returns the subject for rows of sheet with no subject of their
// own. Unaliased sheets use their own name.
func (r ImportRules) SubjectFor(sheet string) string {
	if s, ok := r.SubjectAliases[sheet]; ok && strings.TrimSpace(s) != "" {
		return s
	}
	for name, s := range r.SubjectAliases {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(sheet)) && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return sheet
}

// Load reads .env from the working directory if there is one, then the
// environment, then the YAML file named by IMPORT_CONFIG.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := FromEnv()

	rules, err := LoadRules(envString("IMPORT_CONFIG", "import.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Rules = rules
	return cfg, nil
}

// FromEnv reads the environment only.
func FromEnv() *Config {
	return &Config{
		DB: DBConfig{
			Driver:     envString("DB_DRIVER", "postgres"),
			Host:       envString("DB_HOST", "localhost"),
			Port:       envString("DB_PORT", "5432"),
			User:       os.Getenv("DB_USER"),
			Password:   os.Getenv("DB_PASSWORD"),
			Name:       os.Getenv("DB_NAME"),
			SSLMode:    envString("DB_SSLMODE", "disable"),
			SQLitePath: envString("SQLITE_PATH", "exams.db"),
		},
		Import: ImportConfig{
			BatchSize:         envInt("IMPORT_BATCH_SIZE", 100),
			MaxConcurrency:    envInt("IMPORT_MAX_CONCURRENCY", 5),
			UpdateConcurrency: envInt("IMPORT_UPDATE_CONCURRENCY", 10),
			MaxErrors:         envInt("IMPORT_MAX_ERRORS", 100),
		},
		LogMode:           envString("LOG_MODE", "dev"),
		GoogleCredentials: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
	}
}

// LoadRules reads the YAML import file. A missing file yields empty rules.
func LoadRules(path string) (ImportRules, error) {
	var rules ImportRules
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return rules, fmt.Errorf("failed to read import config: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse import config %s: %w", path, err)
	}
	return rules, nil
}

// DSN returns the data source name for the configured driver.
func (c DBConfig) DSN() string {
	switch strings.ToLower(c.Driver) {
	case "sqlite", "sqlite3":
		return c.SQLitePath
	default:
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return def
	}
	return i
}
